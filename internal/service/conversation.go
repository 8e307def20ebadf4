package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/explain"
	"github.com/timmy/bloodcell/internal/logger"
)

// maxQuestionLength bounds follow-up questions sent to the explanation model.
const maxQuestionLength = 2000

// Explain generates a plain-language explanation of a completed analysis and
// appends it to the job's conversation. A failed explanation leaves the job untouched.
// Returns domain.ErrNotReady, domain.ErrNotFound or domain.ErrExplanationUnavailable.
func (s *AnalysisService) Explain(ctx context.Context, id string) (string, error) {
	ctx = logger.SetComponent(logger.SetAnalysisID(ctx, id), "explain")
	result, history, err := s.conversation(ctx, id)
	if err != nil {
		return "", err
	}

	start := time.Now()
	text, err := s.deps.Explainer.Explain(ctx, explain.Request{Result: result, History: history})
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField(logger.FieldProvider, s.deps.Explainer.Name()).Warn("Explanation failed")
		return "", err
	}
	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldProvider:   s.deps.Explainer.Name(),
	}).Info(ctx, "Explanation generated")

	s.appendExchange(ctx, id, domain.Exchange{Answer: text, At: s.now()})
	if s.deps.Archive != nil {
		if err := s.deps.Archive.SetExplanation(ctx, id, text); err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.FromContext(ctx).WithError(err).Warn("Failed to store explanation")
		}
	}
	return text, nil
}

// FollowUp answers a question about a completed analysis using the prior
// conversation, then records the exchange.
// Returns domain.ErrInvalidInput for an empty question.
func (s *AnalysisService) FollowUp(ctx context.Context, id, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", domain.InvalidInput("question must not be empty", nil)
	}
	if len(question) > maxQuestionLength {
		return "", domain.InvalidInput("question is too long", nil)
	}
	ctx = logger.SetComponent(logger.SetAnalysisID(ctx, id), "explain")

	result, history, err := s.conversation(ctx, id)
	if err != nil {
		return "", err
	}

	answer, err := s.deps.Explainer.Explain(ctx, explain.Request{Result: result, History: history, Question: question})
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField(logger.FieldProvider, s.deps.Explainer.Name()).Warn("Follow-up answer failed")
		return "", err
	}

	ex := domain.Exchange{Question: question, Answer: answer, At: s.now()}
	s.appendExchange(ctx, id, ex)
	if s.deps.FollowUps != nil {
		if err := s.deps.FollowUps.Create(ctx, &domain.FollowUpRecord{
			AnalysisID: id,
			Question:   question,
			Answer:     answer,
			CreatedAt:  ex.At,
		}); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to store follow-up")
		}
	}
	return answer, nil
}

// FollowUps lists the follow-up exchanges of an analysis, oldest first.
func (s *AnalysisService) FollowUps(ctx context.Context, id string) ([]domain.Exchange, error) {
	job, inMemory := s.deps.Store.Get(id)
	if !inMemory {
		if _, err := s.archived(ctx, id); err != nil {
			return nil, err
		}
	}
	if s.deps.FollowUps == nil {
		if !inMemory {
			return []domain.Exchange{}, nil
		}
		return job.Conversation.FollowUps(), nil
	}

	recs, err := s.deps.FollowUps.ListByAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Exchange, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.Exchange{Question: r.Question, Answer: r.Answer, At: r.CreatedAt})
	}
	return out, nil
}

// conversation loads the completed result and its conversation context,
// falling back to the archive for evicted jobs.
func (s *AnalysisService) conversation(ctx context.Context, id string) (domain.AnalysisResult, domain.ConversationContext, error) {
	if job, ok := s.deps.Store.Get(id); ok {
		if job.Stage != domain.StageCompleted || job.Result == nil {
			return domain.AnalysisResult{}, nil, domain.NotReady(id, job.Stage, job.ErrorReason)
		}
		return *job.Result, job.Conversation, nil
	}

	rec, err := s.archived(ctx, id)
	if err != nil {
		return domain.AnalysisResult{}, nil, err
	}
	var history domain.ConversationContext
	if rec.Explanation != "" {
		history = append(history, domain.Exchange{Answer: rec.Explanation, At: rec.UpdatedAt})
	}
	if s.deps.FollowUps != nil {
		recs, err := s.deps.FollowUps.ListByAnalysis(ctx, id)
		if err != nil {
			return domain.AnalysisResult{}, nil, err
		}
		for _, r := range recs {
			history = append(history, domain.Exchange{Question: r.Question, Answer: r.Answer, At: r.CreatedAt})
		}
	}
	return rec.Result(), history, nil
}

func (s *AnalysisService) appendExchange(ctx context.Context, id string, ex domain.Exchange) {
	if _, err := s.deps.Store.Update(id, func(j *domain.AnalysisJob) error {
		j.AppendExchange(ex)
		return nil
	}); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.FromContext(ctx).WithError(err).Warn("Failed to record conversation")
	}
}
