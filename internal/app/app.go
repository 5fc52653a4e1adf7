// Package app wires the configuration, transport, store, engine and dialog
// together and owns their lifecycle.
package app

import (
	"context"

	"postbot/internal/config"
	"postbot/internal/dialog"
	"postbot/internal/engine"
	"postbot/internal/runtime/supervisor"
	"postbot/internal/task"
	kit "postbot/internal/transport"
	"postbot/internal/transport/telegram"
	logx "postbot/pkg/logx"
)

type App struct {
	cfg   *config.Manager
	logs  *logx.Service
	log   logx.Logger
	ad    *telegram.Adapter
	store *task.Store
	eng   *engine.Engine
	dlg   *dialog.Router

	sup     *supervisor.Supervisor
	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Bot.Token,
		PollTimeout: cfg.PollTimeout(),
		RatePerSec:  cfg.Bot.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	store := task.NewStore(cfg.StorePath(), log.With(logx.String("comp", "store")))
	port := &channelDeliverer{ad: ad}
	eng := engine.New(store, port, log.With(logx.String("comp", "engine")), cfg.EngineInterval())
	dlg := dialog.NewRouter(ad, store, port, mgr.Get, log.With(logx.String("comp", "dialog")))

	return &App{
		cfg:     mgr,
		logs:    logs,
		log:     log,
		ad:      ad,
		store:   store,
		eng:     eng,
		dlg:     dlg,
		updates: make(chan kit.Update, 64),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, a.log.With(logx.String("comp", "supervisor")))

	if err := a.ad.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("updates.pump", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case up := <-a.updates:
				a.dlg.HandleUpdate(c, up)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfg.Watch(c)
	})

	a.eng.Start(a.sup.Context())
	a.log.Info("bot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_ = a.eng.Stop(ctx)
	_ = a.ad.Stop(ctx)
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	_ = a.logs.Close()
	return err
}

// channelDeliverer is the delivery port over the chat transport: one message
// to one configured channel.
type channelDeliverer struct {
	ad kit.Adapter
}

func (d *channelDeliverer) Deliver(ctx context.Context, channelID, message string) error {
	_, err := d.ad.SendText(ctx, kit.ChatTarget{Channel: channelID}, message, nil)
	return err
}
