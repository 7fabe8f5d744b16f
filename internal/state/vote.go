package state

import (
	"encoding/json"
	"fmt"
	"os"
)

// Vote is the consensus counter for a pending strategy switch.
type Vote struct {
	Want  string `json:"want"`
	Count int    `json:"vote"`
	TS    int64  `json:"ts"`
}

type VoteStore struct {
	path string
}

func NewVoteStore(path string) *VoteStore { return &VoteStore{path: path} }

// Load returns the stored vote. A missing or corrupt file reads as no vote.
func (s *VoteStore) Load() Vote {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Vote{}
	}
	var v Vote
	if err := json.Unmarshal(raw, &v); err != nil {
		return Vote{}
	}
	return v
}

func (s *VoteStore) Save(v Vote) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode vote: %w", err)
	}
	return WriteFileAtomic(s.path, append(b, '\n'), 0o600)
}

// Reset clears the counter, keeping want.
func (s *VoteStore) Reset(want string, ts int64) error {
	return s.Save(Vote{Want: want, TS: ts})
}
