package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/model"
	"github.com/stemsi/clonearena-backend/internal/repository"
	"github.com/stemsi/clonearena-backend/internal/store"
)

// ChallengeService serves the catalog and the tab's prompt ratings.
type ChallengeService struct {
	repo  *repository.ChallengeRepository
	store *store.Store
	log   zerolog.Logger
}

func NewChallengeService(repo *repository.ChallengeRepository, st *store.Store, log zerolog.Logger) *ChallengeService {
	return &ChallengeService{
		repo:  repo,
		store: st,
		log:   log.With().Str("component", "challenge_service").Logger(),
	}
}

// List returns the catalog with the tab's solved markers.
func (s *ChallengeService) List(ctx context.Context, tabID string) []model.ChallengeListItem {
	challenges := s.repo.List()
	items := make([]model.ChallengeListItem, 0, len(challenges))
	for _, c := range challenges {
		items = append(items, model.ChallengeListItem{
			Challenge: c,
			Solved:    s.store.IsSolved(ctx, tabID, c.ID),
		})
	}
	return items
}

func (s *ChallengeService) Get(id string) (*model.Challenge, error) {
	return s.repo.GetByID(id)
}

// AddPromptScore records a rating for an existing challenge.
func (s *ChallengeService) AddPromptScore(ctx context.Context, tabID, challengeID string, score int) (*model.PromptScoreSummary, error) {
	if _, err := s.repo.GetByID(challengeID); err != nil {
		return nil, err
	}
	s.store.AddPromptScore(ctx, tabID, challengeID, score)
	return s.PromptScore(ctx, tabID, challengeID)
}

// PromptScore summarizes the ratings of a challenge.
func (s *ChallengeService) PromptScore(ctx context.Context, tabID, challengeID string) (*model.PromptScoreSummary, error) {
	if _, err := s.repo.GetByID(challengeID); err != nil {
		return nil, err
	}
	scores := s.store.GetPromptScores(ctx, tabID, challengeID)
	if scores == nil {
		scores = []int{}
	}
	return &model.PromptScoreSummary{
		ChallengeID: challengeID,
		Average:     s.store.GetAveragePromptScore(ctx, tabID, challengeID),
		Count:       len(scores),
		Scores:      scores,
	}, nil
}
