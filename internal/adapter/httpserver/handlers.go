// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the thin REST surface over the Verification Orchestration
// Engine: creating verification requests, polling their status, and
// checking eligibility ahead of submission. The core state machine lives in
// internal/usecase; handlers here only translate HTTP <-> domain calls.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/emagero/second-check/internal/domain"
	"github.com/emagero/second-check/internal/usecase"
)

var validate = validator.New()

// Server holds the use cases the HTTP handlers delegate to.
type Server struct {
	Intake        usecase.IntakeService
	Verifications domain.VerificationRequestRepository
	Eligibility   *usecase.EligibilityChecker
	dbCheck       func(context.Context) error
}

// NewServer constructs a Server.
func NewServer(intake usecase.IntakeService, verifications domain.VerificationRequestRepository, eligibility *usecase.EligibilityChecker, dbCheck func(context.Context) error) *Server {
	return &Server{Intake: intake, Verifications: verifications, Eligibility: eligibility, dbCheck: dbCheck}
}

type verifyRequest struct {
	JobNo string `json:"jobNo" validate:"required"`
}

type verifyResponse struct {
	VerificationRequestID string `json:"verificationRequestId"`
}

// VerifyHandler implements `POST /verify {jobNo}` (spec §6): creates a
// PENDING VerificationRequest, enqueues processing, and returns its id.
func (s *Server) VerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, errors.Join(domain.ErrInvalidArgument, err), nil)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, errors.Join(domain.ErrInvalidArgument, err), nil)
			return
		}

		vr, err := s.Intake.VerifyJob(r.Context(), req.JobNo)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, verifyResponse{VerificationRequestID: vr.ID})
	}
}

type verificationResponse struct {
	ID               string   `json:"id"`
	JobNo            string   `json:"jobNo"`
	RequestTimestamp string   `json:"requestTimestamp"`
	ResultTimestamp  *string  `json:"resultTimestamp"`
	Status           string   `json:"status"`
	Discrepancies    []string `json:"discrepancies"`
}

func toVerificationResponse(vr domain.VerificationRequest) verificationResponse {
	resp := verificationResponse{
		ID:            vr.ID,
		JobNo:         vr.JobNo,
		Status:        string(vr.Status),
		Discrepancies: vr.Discrepancies,
	}
	resp.RequestTimestamp = vr.RequestTimestamp.Format("2006-01-02T15:04:05Z07:00")
	if vr.ResultTimestamp != nil {
		ts := vr.ResultTimestamp.Format("2006-01-02T15:04:05Z07:00")
		resp.ResultTimestamp = &ts
	}
	return resp
}

// GetHandler implements `GET /verify/{id}` (spec §6).
func (s *Server) GetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		vr, err := s.Verifications.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toVerificationResponse(vr))
	}
}

// LatestByJobHandler implements `GET /verify/job/{jobNo}/latest` (spec §6).
func (s *Server) LatestByJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobNo := chi.URLParam(r, "jobNo")
		vr, err := s.Verifications.LatestByJobNo(r.Context(), jobNo)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toVerificationResponse(vr))
	}
}

type eligibilityResponse struct {
	IsEligible   bool   `json:"isEligible"`
	JobNo        string `json:"jobNo"`
	JobTitle     string `json:"jobTitle"`
	CustomerName string `json:"customerName"`
	Message      string `json:"message"`
}

// CheckEligibilityHandler implements `GET /verify/check-eligibility/{jobNo}` (spec §6).
func (s *Server) CheckEligibilityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobNo := chi.URLParam(r, "jobNo")
		result, err := s.Eligibility.Check(r.Context(), jobNo)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, eligibilityResponse{
			IsEligible:   result.IsEligible,
			JobNo:        result.JobNo,
			JobTitle:     result.JobTitle,
			CustomerName: result.CustomerName,
			Message:      result.Message,
		})
	}
}

// ReadyzHandler reports liveness of the database dependency.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.dbCheck != nil {
			if err := s.dbCheck(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
