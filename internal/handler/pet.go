package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AlexZinkM/pet-wallet/internal/model"
	"github.com/AlexZinkM/pet-wallet/internal/orchestrator"
	"github.com/AlexZinkM/pet-wallet/internal/wallet"
	"github.com/AlexZinkM/pet-wallet/pet"

	"go.uber.org/zap"
)

// Submitter sends call batches. *orchestrator.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, calls []model.PreparedCall) (*orchestrator.TransactionRecord, error)
}

// PetHandler serves the pet actions
type PetHandler struct {
	submitter Submitter
	contract  *pet.Contract
	reader    pet.Reader
	wallet    *wallet.Wallet
	logger    *zap.Logger
}

func NewPetHandler(submitter Submitter, contract *pet.Contract, reader pet.Reader, w *wallet.Wallet, logger *zap.Logger) (*PetHandler, error) {
	if submitter == nil || contract == nil || reader == nil || w == nil {
		return nil, errors.New("pet handler dependencies are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PetHandler{
		submitter: submitter,
		contract:  contract,
		reader:    reader,
		wallet:    w,
		logger:    logger,
	}, nil
}

// Create handles POST /pet/create
// @Summary      Create pet
// @Description  Creates a pet for the owner account, gasless through the relay when available
// @Tags         pet
// @Accept       json
// @Produce      json
// @Param        request  body      model.CreatePetRequest  true  "Pet name"
// @Success      200      {object}  model.TransactionResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      402      {object}  model.ErrorResponse
// @Failure      502      {object}  model.ErrorResponse
// @Failure      504      {object}  model.ErrorResponse
// @Router       /pet/create [post]
func (h *PetHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed. Should be POST", http.StatusMethodNotAllowed)
		return
	}

	var req model.CreatePetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeInvalidRequest, err)
		return
	}

	call, err := h.contract.CreatePet(req.Name)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	h.submit(w, r, "createPet", call)
}

// Feed handles POST /pet/feed
// @Summary      Feed pet
// @Tags         pet
// @Produce      json
// @Success      200  {object}  model.TransactionResponse
// @Failure      402  {object}  model.ErrorResponse
// @Failure      504  {object}  model.ErrorResponse
// @Router       /pet/feed [post]
func (h *PetHandler) Feed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed. Should be POST", http.StatusMethodNotAllowed)
		return
	}
	call, err := h.contract.FeedPet()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	h.submit(w, r, "feedPet", call)
}

// Play handles POST /pet/play
// @Summary      Play with pet
// @Tags         pet
// @Produce      json
// @Success      200  {object}  model.TransactionResponse
// @Failure      402  {object}  model.ErrorResponse
// @Failure      504  {object}  model.ErrorResponse
// @Router       /pet/play [post]
func (h *PetHandler) Play(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed. Should be POST", http.StatusMethodNotAllowed)
		return
	}
	call, err := h.contract.PlayWithPet()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	h.submit(w, r, "playWithPet", call)
}

func (h *PetHandler) submit(w http.ResponseWriter, r *http.Request, action string, call model.PreparedCall) {
	record, err := h.submitter.Submit(r.Context(), []model.PreparedCall{call})
	if err != nil {
		h.logger.Error("pet action failed", zap.String("action", action), zap.Error(err))
		status, code := statusForError(err)
		if record != nil {
			// the body still carries the record so callers can see where it stopped
			w.Header().Set("X-Error-Code", code)
			writeJSON(w, status, h.transactionResponse(record))
			return
		}
		writeError(w, status, code, err)
		return
	}

	writeJSON(w, http.StatusOK, h.transactionResponse(record))
}

func (h *PetHandler) transactionResponse(record *orchestrator.TransactionRecord) model.TransactionResponse {
	resp := model.TransactionResponse{
		Path:     string(record.Path),
		BundleID: record.BundleID,
		State:    record.State.String(),
		History:  record.HistoryStrings(),
		Receipts: record.Receipts,
	}
	if resp.Receipts == nil {
		resp.Receipts = []model.Receipt{}
	}
	for _, created := range h.contract.CreatedEvents(record.Receipts) {
		resp.PetEvents = append(resp.PetEvents, "PetCreated("+created.Owner.Hex()+", "+created.Name+")")
	}
	return resp
}

// Stats handles GET /pet/stats
// @Summary      Get pet stats
// @Description  Reads the owner's pet from the contract
// @Tags         pet
// @Produce      json
// @Success      200  {object}  model.PetStatsResponse
// @Failure      500  {object}  model.ErrorResponse
// @Router       /pet/stats [get]
func (h *PetHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. Should be GET", http.StatusMethodNotAllowed)
		return
	}

	owner, ok := h.wallet.Owner()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, model.CodeStorageUnavailable, wallet.ErrOwnerNotReady)
		return
	}

	resp := model.PetStatsResponse{Owner: owner.Address.Hex()}
	has, err := h.contract.HasPet(r.Context(), h.reader, owner.Address)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	resp.HasPet = has
	if !has {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	stats, err := h.contract.Stats(r.Context(), h.reader, owner.Address)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	resp.Name = stats.Name
	resp.Level = stats.Level.String()
	resp.XP = stats.XP.String()
	resp.Happiness = stats.Happiness.String()
	resp.Hunger = stats.Hunger.String()
	resp.IsAlive = stats.IsAlive
	resp.WinStreak = stats.WinStreak.String()

	writeJSON(w, http.StatusOK, resp)
}
