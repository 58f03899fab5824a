package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/activity-sync/internal/config"
	"github.com/baechuer/activity-sync/internal/domain"
	"github.com/baechuer/activity-sync/internal/downstream"
	"github.com/baechuer/activity-sync/internal/logger"
	"github.com/baechuer/activity-sync/internal/opsserver"
	"github.com/baechuer/activity-sync/internal/realtime"
	"github.com/baechuer/activity-sync/internal/session"
	"github.com/baechuer/activity-sync/internal/store"
	"github.com/baechuer/activity-sync/internal/tracing"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Init Logger + Tracing
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Log

	ctx := context.Background()
	tp, err := tracing.InitTracing(ctx, tracing.Config{
		ServiceName:    "activity-sync",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRatio:    cfg.TracingSampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	// 3. Identity
	var sess *session.Session
	if cfg.AccessToken != "" {
		sess = session.New(&domain.User{Token: cfg.AccessToken})
	} else {
		sess = session.New(nil)
	}
	if sess.Expired(time.Now()) {
		log.Warn().Msg("access token already expired")
	}

	client := downstream.NewClient(downstream.ClientConfig{
		BaseURL:      cfg.APIURL,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, sess)

	if cfg.AccessToken != "" {
		user, err := downstream.NewUserClient(client).Current(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to resolve current user")
		}
		if user.Token == "" {
			user.Token = cfg.AccessToken
		}
		sess.SetUser(*user)
		log.Info().Str("username", user.Username).Msg("signed in")
	}

	// 4. Store + channel
	st := store.New(store.Deps{
		API:       downstream.NewActivityClient(client),
		Session:   sess,
		Notifier:  store.NotifierFunc(logNotice),
		Navigator: store.NavigatorFunc(logNavigation),
		PageSize:  cfg.PageSize,
	})
	profiles := store.NewProfileStore(store.ProfileDeps{
		API:       downstream.NewProfileClient(client),
		Session:   sess,
		Following: st,
		Failures:  st,
	})

	chat := realtime.NewManager(realtime.Config{
		URL:           cfg.ChatURL,
		InvokeTimeout: cfg.ChannelInvokeTimeout,
		SendRate:      cfg.ChannelSendRate,
	}, sess, st, st)

	sess.OnInvalidate(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ChannelInvokeTimeout)
		defer cancel()
		_ = chat.Close(closeCtx)
	})

	unsubscribe := st.Subscribe(func(c store.Change) {
		log.Debug().Str("op", string(c.Op)).Str("activity_id", c.ID).Msg("registry_changed")
	})
	defer unsubscribe()

	// 5. Initial sync
	if cfg.PredicateName != "" {
		err = st.SetPredicate(ctx, cfg.PredicateName, predicateValue(cfg.PredicateName, cfg.PredicateValue))
	} else {
		err = st.LoadActivities(ctx)
	}
	if err != nil {
		log.Error().Err(err).Msg("initial load failed")
	} else {
		log.Info().
			Int("page", st.Page()).
			Int("total_pages", st.TotalPages()).
			Int("cached", st.Registry().Len()).
			Msg("activities loaded")
	}

	if user, ok := sess.Current(); ok && user.Username != "" {
		if _, err := profiles.LoadProfile(ctx, user.Username); err != nil {
			log.Warn().Err(err).Msg("profile load failed")
		}
	}

	if id := cfg.WatchActivityID; id != "" {
		if _, err := st.LoadActivity(ctx, id); err != nil {
			log.Error().Err(err).Str("activity_id", id).Msg("watch target unavailable")
		} else {
			if p, ok := st.Policy(time.Now()); ok {
				log.Info().Str("activity_id", id).Bool("can_attend", p.CanAttend).
					Bool("can_cancel", p.CanCancel).Bool("can_edit", p.CanEdit).
					Str("reason", p.Reason).Msg("watching activity")
			}
			if err := chat.Open(ctx, id); err != nil {
				log.Error().Err(err).Str("activity_id", id).Msg("watch channel failed")
			}
		}
	}

	// 6. Ops server
	var srv *http.Server
	if cfg.OpsAddr != "" {
		router := opsserver.NewRouter(opsserver.Deps{
			Logger:     log,
			Activities: st,
			Channel:    chat,
			Checkers: []opsserver.ReadinessChecker{
				opsserver.NewHTTPReadinessChecker("api", cfg.APIURL+"/activities?limit=1&offset=0"),
				opsserver.CheckFunc{CheckName: "session", Fn: func(context.Context) error {
					if _, ok := sess.Current(); !ok && cfg.AccessToken != "" {
						return errors.New("session invalidated")
					}
					return nil
				}},
			},
		})
		srv = opsserver.New(cfg.OpsAddr, router)
		go func() {
			log.Info().Str("addr", cfg.OpsAddr).Msg("ops server starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("ops server failed")
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := chat.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("channel close failed")
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("ops server shutdown failed")
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown failed")
	}
}

// predicateValue types a PREDICATE value for the list query.
func predicateValue(name, raw string) any {
	switch name {
	case "startDate":
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t
		}
	case "isGoing", "isHost":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
		return true
	}
	return raw
}

func logNotice(n store.Notice) {
	ev := logger.Log.Info()
	if n.Level == store.NoticeError {
		ev = logger.Log.Error()
	}
	ev.Str("source", "notice").Msg(n.Message)
}

func logNavigation(path string) {
	logger.Log.Info().Str("path", path).Msg("navigate")
}
