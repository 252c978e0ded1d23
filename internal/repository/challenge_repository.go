package repository

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/stemsi/clonearena-backend/internal/model"
	"gopkg.in/yaml.v3"
)

// ErrChallengeNotFound is returned for unknown challenge IDs.
var ErrChallengeNotFound = errors.New("challenge not found")

var challengeIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ChallengeRepository is the read-only challenge catalog.
type ChallengeRepository struct {
	list []model.Challenge
	byID map[string]int
}

type catalogFile struct {
	Challenges []model.Challenge `yaml:"challenges"`
}

// LoadChallengeRepository reads the catalog from a YAML file.
func LoadChallengeRepository(path string) (*ChallengeRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read challenge catalog: %w", err)
	}
	return ParseChallengeCatalog(data)
}

// ParseChallengeCatalog builds a repository from YAML bytes. IDs must be
// unique and match ^[a-z0-9-]+$.
func ParseChallengeCatalog(data []byte) (*ChallengeRepository, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse challenge catalog: %w", err)
	}

	r := &ChallengeRepository{
		list: make([]model.Challenge, 0, len(f.Challenges)),
		byID: make(map[string]int, len(f.Challenges)),
	}
	for i, c := range f.Challenges {
		if !challengeIDPattern.MatchString(c.ID) {
			return nil, fmt.Errorf("challenge #%d: invalid id %q", i, c.ID)
		}
		if _, dup := r.byID[c.ID]; dup {
			return nil, fmt.Errorf("challenge %q: duplicate id", c.ID)
		}
		if c.Title == "" {
			return nil, fmt.Errorf("challenge %q: title is required", c.ID)
		}
		if c.Difficulty != "" && !c.Difficulty.Valid() {
			return nil, fmt.Errorf("challenge %q: unknown difficulty %q", c.ID, c.Difficulty)
		}
		r.byID[c.ID] = len(r.list)
		r.list = append(r.list, c)
	}
	return r, nil
}

// List returns the catalog in file order.
func (r *ChallengeRepository) List() []model.Challenge {
	out := make([]model.Challenge, len(r.list))
	copy(out, r.list)
	return out
}

func (r *ChallengeRepository) GetByID(id string) (*model.Challenge, error) {
	i, ok := r.byID[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	c := r.list[i]
	return &c, nil
}
