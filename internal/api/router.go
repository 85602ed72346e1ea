package api

import (
	"net/http"

	_ "github.com/AlexZinkM/pet-wallet/docs"
	"github.com/AlexZinkM/pet-wallet/internal/handler"

	httpSwagger "github.com/swaggo/http-swagger"
)

// SetupRouter sets up router with handlers
func SetupRouter(pets *handler.PetHandler, wallets *handler.WalletHandler) http.Handler {
	mux := http.NewServeMux()

	// Swagger UI
	mux.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	// Pet endpoints
	mux.HandleFunc("/pet/create", pets.Create)
	mux.HandleFunc("/pet/feed", pets.Feed)
	mux.HandleFunc("/pet/play", pets.Play)
	mux.HandleFunc("/pet/stats", pets.Stats)

	// Wallet endpoints
	mux.HandleFunc("/wallet/owner", wallets.Owner)
	mux.HandleFunc("/wallet/session", wallets.RotateSession)

	return mux
}
