package server

import (
	"net/http"
	"strings"

	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/fault"
	"examseal/core/integrity"
	"examseal/core/validation"
)

type loginTokenRequest struct {
	PrincipalID int64  `json:"principalId" validate:"gt=0"`
	Role        string `json:"role" validate:"required"`
}

type loginTokenResponse struct {
	Token     string         `json:"token"`
	Principal auth.Principal `json:"principal"`
}

// handleLoginToken mints a token for any principal. Development only.
func (s *Server) handleLoginToken(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		s.fail(w, r, fault.New(fault.KindNotFound, "not found"))
		return
	}
	var req loginTokenRequest
	if err := s.decodeBody(w, r, validation.SchemaLoginToken, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		s.fail(w, r, fault.New(fault.KindInvalidInput, err.Error()))
		return
	}
	p := auth.Principal{ID: req.PrincipalID, Role: role}
	token, err := s.issuer.Issue(p)
	if err != nil {
		s.fail(w, r, fault.Wrap(fault.KindInternal, "issue token", err))
		return
	}
	s.log.WarnContext(r.Context(), "development token issued", "principal", p.String())
	writeJSON(w, http.StatusOK, loginTokenResponse{Token: token, Principal: p})
}

func (s *Server) handleListExams(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	list, err := s.exams.ListSubjects(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateExam(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var in exam.SubjectInput
	if err := s.decodeBody(w, r, validation.SchemaSubject, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	subj, err := s.exams.CreateSubject(r.Context(), p, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subj)
}

type itemRequest struct {
	ID       int64        `json:"id"`
	Question string       `json:"question" validate:"required"`
	Options  exam.Options `json:"options"`
	Correct  string       `json:"correct" validate:"required"`
}

// handlePutQuestion serves both POST .../questions/ (allocate an id) and
// PUT .../questions/{qid} (create or replace).
func (s *Server) handlePutQuestion(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req itemRequest
	if err := s.decodeBody(w, r, validation.SchemaItem, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if r.PathValue("qid") != "" {
		qid, err := pathID(r, "qid")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if req.ID != 0 && req.ID != qid {
			s.fail(w, r, fault.New(fault.KindInvalidInput, "question id in body does not match path"))
			return
		}
		req.ID = qid
		status = http.StatusOK
	} else {
		req.ID = 0
	}
	it, err := s.exams.PutItem(r.Context(), p, exam.Item{
		ID:        req.ID,
		SubjectID: subjectID,
		Question:  req.Question,
		Options:   req.Options,
		Correct:   exam.Choice(req.Correct),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, it)
}

func (s *Server) handleDeleteQuestion(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	qid, err := pathID(r, "qid")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.exams.DeleteItem(r.Context(), p, subjectID, qid); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	paper, err := s.exams.Questions(r.Context(), p, subjectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.exams.StartAttempt(r.Context(), p, subjectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	receipt, err := s.integrity.Lock(r.Context(), subjectID, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type answerRequest struct {
	QuestionID int64   `json:"question_id"`
	Selected   *string `json:"selected_option"`
}

type submissionRequest struct {
	Answers []answerRequest `json:"answers"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req submissionRequest
	if err := s.decodeBody(w, r, validation.SchemaSubmission, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	answers := make([]exam.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		ans := exam.Answer{ItemID: a.QuestionID}
		if a.Selected != nil && strings.TrimSpace(*a.Selected) != "" {
			c, err := exam.ParseChoice(*a.Selected)
			if err != nil {
				s.fail(w, r, fault.New(fault.KindInvalidInput, err.Error()))
				return
			}
			ans.Selected = c
		}
		answers = append(answers, ans)
	}
	receipt, err := s.integrity.CommitOutcome(r.Context(), subjectID, p, answers)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleVerifyContent(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.integrity.VerifyContent(r.Context(), subjectID, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleVerifyOutcome(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	principalID, err := pathID(r, "sid")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.integrity.VerifyOutcome(r.Context(), subjectID, principalID, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleVerifyAnchors(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	checks, err := s.integrity.VerifyAnchors(r.Context(), subjectID, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

func (s *Server) handleMyResult(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.exams.MyResult(r.Context(), p, subjectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	markers, err := s.integrity.ListPending(r.Context(), subjectID, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markers)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	subjectID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req integrity.ReconcileRequest
	if err := s.decodeBody(w, r, validation.SchemaReconcile, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	resolved, err := s.integrity.Reconcile(r.Context(), subjectID, p, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
