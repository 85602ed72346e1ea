package model

// CreatePetRequest represents request for POST /pet/create
type CreatePetRequest struct {
	Name string `json:"name" binding:"required"`
}

// TransactionResponse represents response for pet actions
type TransactionResponse struct {
	Path      string    `json:"path"` // "relay" or "direct"
	BundleID  string    `json:"bundleId,omitempty"`
	State     string    `json:"state"`
	History   []string  `json:"history"`
	Receipts  []Receipt `json:"receipts"`
	PetEvents []string  `json:"petEvents,omitempty"`
}

// PetStatsResponse represents response for GET /pet/stats
type PetStatsResponse struct {
	Owner     string `json:"owner"`
	HasPet    bool   `json:"hasPet"`
	Name      string `json:"name,omitempty"`
	Level     string `json:"level,omitempty"`
	XP        string `json:"xp,omitempty"`
	Happiness string `json:"happiness,omitempty"`
	Hunger    string `json:"hunger,omitempty"`
	IsAlive   bool   `json:"isAlive"`
	WinStreak string `json:"winStreak,omitempty"`
}
