package server

import (
	"fmt"
	"net/http"

	"github.com/golang/glog"

	"github.com/pubkit/adcoord/config"
)

// Listen blocks serving the given handler until the server quits.
func Listen(cfg *config.Configuration, handler http.Handler) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: handler,
	}
	glog.Infof("Main server starting on: %s", srv.Addr)
	err := srv.ListenAndServe()
	glog.Errorf("Main server quit with error: %v", err)
	return err
}
