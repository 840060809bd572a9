package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// apiHTTPServer wraps the gin engine in a standard http.Server so it can be
// started and shut down alongside the other components under one errgroup.
type apiHTTPServer struct {
	port    int
	handler http.Handler
	srv     *http.Server
}

func (s *apiHTTPServer) Start() error {
	s.srv = &http.Server{
		Addr:    ":" + strconv.Itoa(s.port),
		Handler: s.handler,
	}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *apiHTTPServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// newTrackingID generates a fresh tracking ID for notifications admitted by
// the scheduler.
func newTrackingID() string {
	return uuid.NewString()
}
