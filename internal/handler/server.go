package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"campus-eats/internal/middlewares"
	"campus-eats/internal/state"

	"github.com/gorilla/mux"
)

const (
	readTimeout       = 5 * time.Minute
	readHeaderTimeout = 30 * time.Second
	writeTimeout      = 5 * time.Minute
)

type Server struct {
	Router *mux.Router
	server *http.Server
}

func SetupRoutes(h *OrderHandler, jwtSecret []byte) *Server {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"alive": true}`)
	}).Methods("GET")

	authRoutes := router.PathPrefix("/").Subrouter()
	authRoutes.Use(middlewares.AuthMiddleware(jwtSecret))

	authRoutes.HandleFunc("/ws", h.Realtime).Methods("GET")

	students := authRoutes.PathPrefix("/orders").Subrouter()
	students.Use(middlewares.RequireRoles(state.ActorStudent))
	students.HandleFunc("", h.CreateOrder).Methods("POST")
	students.HandleFunc("/{id}/nudge", h.Nudge).Methods("POST")

	authRoutes.HandleFunc("/orders", h.ListOrders).Methods("GET")
	authRoutes.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	authRoutes.HandleFunc("/orders/{id}/history", h.History).Methods("GET")
	authRoutes.HandleFunc("/orders/{id}/status", h.UpdateStatus).Methods("PUT")

	// Only the payment provider's callback client may settle payments.
	payments := authRoutes.PathPrefix("/orders").Subrouter()
	payments.Use(middlewares.RequireRoles(state.ActorSystem))
	payments.HandleFunc("/{id}/payment", h.UpdatePayment).Methods("PUT")

	restaurants := authRoutes.PathPrefix("/restaurants").Subrouter()
	restaurants.Use(middlewares.RequireRoles(state.ActorRestaurant, state.ActorCourier))
	restaurants.HandleFunc("/{id}/orders", h.ListRestaurantOrders).Methods("GET")

	return &Server{
		Router: router,
	}
}

func (svr *Server) Run(port string) error {
	svr.server = &http.Server{
		Addr:              ":" + port,
		Handler:           svr.Router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
	return svr.server.ListenAndServe()
}

func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return svr.server.Shutdown(ctx)
}
