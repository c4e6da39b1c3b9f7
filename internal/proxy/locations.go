package proxy

import (
	"fmt"

	"github.com/guided-traffic/json-post-proxy/internal/access"
	"github.com/guided-traffic/json-post-proxy/internal/accesslog"
	"github.com/guided-traffic/json-post-proxy/internal/config"
	"github.com/guided-traffic/json-post-proxy/internal/jsonvars"
	"github.com/guided-traffic/json-post-proxy/internal/monitoring"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/handlers/respond"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/handlers/store"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/handlers/upstream"
	"github.com/sirupsen/logrus"
)

type location struct {
	config   *config.LocationConfig
	pipeline *pipeline.Location
}

// buildLocations turns every configured location into a pipeline location
// carrying the configuration of each module
func (s *Server) buildLocations() ([]location, error) {
	locations := make([]location, 0, len(s.config.Locations))

	for i := range s.config.Locations {
		cfg := &s.config.Locations[i]
		loc := pipeline.NewLocation(cfg.Path)

		loc.SetConf(jsonvars.Module, &jsonvars.LocationConf{
			Enabled: cfg.JSONDecode,
			Prefix:  cfg.VariablePrefix,
		})

		if len(cfg.LogVariables) > 0 {
			loc.SetConf(accesslog.Module, &accesslog.LocationConf{Variables: cfg.LogVariables})
		}

		if cfg.Auth != nil {
			auth, err := newAuthenticator(cfg.Auth)
			if err != nil {
				return nil, fmt.Errorf("location %s: %w", cfg.Path, err)
			}
			loc.SetConf(access.Module, auth)
		}

		content, err := s.newContentHandler(cfg)
		if err != nil {
			return nil, fmt.Errorf("location %s: %w", cfg.Path, err)
		}
		loc.Content = content

		monitoring.SetLocationInfo(cfg.Path, cfg.ContentHandler(), cfg.JSONDecode)
		s.logger.WithFields(logrus.Fields{
			"path":        cfg.Path,
			"content":     cfg.ContentHandler(),
			"json_decode": cfg.JSONDecode,
			"methods":     cfg.Methods,
		}).Info("Location configured")

		locations = append(locations, location{config: cfg, pipeline: loc})
	}

	return locations, nil
}

func newAuthenticator(cfg *config.AuthConfig) (access.Authenticator, error) {
	switch cfg.Type {
	case config.AuthJWT:
		return access.NewJWTAuthenticator(cfg.JWTSecret, cfg.Realm), nil
	case config.AuthBasic:
		users := make(map[string]string, len(cfg.Users))
		for _, u := range cfg.Users {
			users[u.Name] = u.PasswordHash
		}
		return access.NewBasicAuthenticator(cfg.Realm, users), nil
	}
	return nil, fmt.Errorf("unsupported auth type %q", cfg.Type)
}

func (s *Server) newContentHandler(cfg *config.LocationConfig) (pipeline.Handler, error) {
	switch cfg.ContentHandler() {
	case config.ContentReturn:
		return respond.NewHandler(cfg.Return, s.logger).Handle, nil
	case config.ContentProxyPass:
		h, err := upstream.NewHandler(cfg, s.transport, s.errorWriter, s.logger)
		if err != nil {
			return nil, err
		}
		return h.Handle, nil
	case config.ContentS3Put:
		if s.uploader == nil {
			return nil, fmt.Errorf("s3_put requires an S3 backend")
		}
		return store.NewHandler(cfg.S3Put, s.uploader, s.logger).Handle, nil
	}
	return nil, fmt.Errorf("no content handler configured")
}
