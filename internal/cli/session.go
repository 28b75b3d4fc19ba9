package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dgrissen2/plannotator-ext/internal/api"
	"github.com/dgrissen2/plannotator-ext/internal/model"
	"github.com/dgrissen2/plannotator-ext/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// runSession serves sess until the reviewer decides or ctx is cancelled.
// rec, when set, receives draft annotations from the UI.
func (a *appState) runSession(ctx context.Context, sess *api.Session, rec *storage.Record) (model.Decision, error) {
	srv, err := api.New(sess, api.Options{
		Host:           a.cfg.Host,
		Port:           a.cfg.ListenPort(),
		HomeDir:        a.cfg.HomeDir,
		UploadDir:      a.cfg.UploadDir,
		SharingEnabled: a.cfg.SharingEnabled,
		UIPath:         a.cfg.UIPath,
		Archive:        rec,
		Logger:         a.log,
	})
	if err != nil {
		return model.Decision{}, err
	}

	if err := srv.Start(ctx); err != nil {
		return model.Decision{}, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			a.log.Warn().Err(err).Msg("server shutdown")
		}
	}()

	fmt.Fprintln(a.stderr, renderBanner(sess.Mode, srv.URL(), a.cfg.Remote))

	if a.started != nil {
		a.started(srv)
	}
	if !a.noBrowser && !a.cfg.Remote {
		if err := openBrowser(a.cfg.Browser, srv.URL()); err != nil {
			a.log.Warn().Err(err).Msg("could not open browser")
		}
	}

	d, err := sess.Decision.Wait(ctx)
	if err != nil {
		return model.Decision{}, fmt.Errorf("waiting for review: %w", err)
	}
	a.log.Info().Bool("approved", d.Approved).Int("annotations", len(d.Annotations)).Str("agent_switch", d.AgentSwitch).Msg("review decided")
	return d, nil
}

// archive opens a storage record for content, or returns nil when
// archiving is off or fails.
func (a *appState) archive(content string) *storage.Record {
	if !a.cfg.Archive {
		return nil
	}
	rec, err := storage.New(a.cfg.PlansDir, a.log).Begin(content)
	if err != nil {
		a.log.Warn().Err(err).Str("dir", a.cfg.PlansDir).Msg("plan archive disabled")
		return nil
	}
	return rec
}

// finalize writes the decision artifacts for rec. Failures are logged; the
// decision still reaches the agent.
func (a *appState) finalize(rec *storage.Record, content string, d model.Decision) {
	if rec == nil {
		return
	}
	paths, err := rec.Finalize(content, d)
	if err != nil {
		a.log.Error().Err(err).Str("slug", rec.Slug).Msg("archive decision")
		return
	}
	a.log.Debug().Strs("paths", paths).Msg("decision archived")
}
