package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ai_consultant/config"
	"ai_consultant/consultant"
	"ai_consultant/delivery"
	"ai_consultant/generator"
	"ai_consultant/logger"
	"ai_consultant/metrics"
	"ai_consultant/server"
	"ai_consultant/session"
)

// app holds the wired service graph for one process.
type app struct {
	log     *logger.Logger
	store   session.Store
	service *consultant.Service
	server  *server.Server
}

func newApp(ctx context.Context, cfg *config.Config, version string) (*app, error) {
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	llm, err := generator.BuildLLM(generator.LLMSettings{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	agent, err := generator.NewAgent(llm, log, m)
	if err != nil {
		store.Close()
		return nil, err
	}

	var mailer delivery.Mailer
	if cfg.Email.ResendAPIKey != "" {
		rm, err := delivery.NewResendMailer(cfg.Email.ResendAPIKey)
		if err != nil {
			store.Close()
			return nil, err
		}
		mailer = rm
	} else {
		log.Warn("email.resend_api_key not set, report and sales emails are disabled").Send()
	}

	renderer := delivery.NewRenderer()
	composer := delivery.NewComposer(agent, cfg.Refinement.CTAURL, log)
	svc, err := consultant.NewService(store, agent, consultant.Options{
		RefinementsAllowed: cfg.Refinement.Allowed,
		CTAURL:             cfg.Refinement.CTAURL,
		Mailer:             delivery.NewReportSender(mailer, composer, renderer, cfg.Email.From, log),
		Sales:              delivery.NewSalesNotifier(mailer, cfg.Email.From, cfg.Email.SalesTo, cfg.Email.DashboardURL, log),
		Renderer:           renderer,
		Logger:             log,
		Metrics:            m,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	srv, err := server.New(svc, server.Options{
		Jobs:           server.NewDispatcher(cfg.Jobs.Concurrency, cfg.Jobs.Timeout, log, m),
		Logger:         log,
		Metrics:        m,
		Gatherer:       reg,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Version:        version,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{log: log, store: store, service: svc, server: srv}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (session.Store, error) {
	switch cfg.Driver {
	case "memory":
		return session.NewMemoryStore(), nil
	case "sqlite":
		s, err := session.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "mongo":
		s, err := session.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("close store").Err(err).Send()
	}
}
