// Command fake-reports serves a stand-in reporting API for local runs of
// the tournament service. Point MPLUS_WCL_TOKEN_URL and MPLUS_WCL_GQL_URL at
// it and use the test credentials.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/testreports"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

func main() {
	var (
		addr = flag.String("addr", ":9090", "listen address")
		code = flag.String("code", "AbCdEfGh12345678", "report code served with a sample run (empty for none)")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		panic(err)
	}
	log := logger.Get().Named("fake-reports")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := testreports.NewHandler()
	if *code != "" {
		h.AddReport(sampleReport(*code))
	}

	srv := &http.Server{Addr: *addr, Handler: h, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info(ctx, "serving fake reporting API",
		logger.String("addr", *addr),
		logger.String("token_path", testreports.TokenPath),
		logger.String("graphql_path", testreports.GraphQLPath),
		logger.String("client_id", testreports.ClientID),
		logger.String("client_secret", testreports.ClientSecret),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(ctx, "listen failed", logger.Error(err))
		os.Exit(1)
	}
}

// sampleReport is one timed and one depleted key starting now.
func sampleReport(code string) testreports.Report {
	bonus := 0
	return testreports.Report{
		Code:      code,
		StartTime: time.Now().Add(-time.Hour).UnixMilli(),
		Fights: []testreports.Fight{
			{
				ID: 1, Name: "The Dawnbreaker", StartTime: 10_000, EndTime: 1_510_000,
				KeystoneLevel: 15, KeystoneTime: 1_488_000, Kill: true, Deaths: 4,
			},
			{
				ID: 2, Name: "Priory of the Sacred Flame", StartTime: 1_600_000, EndTime: 3_900_000,
				KeystoneLevel: 14, KeystoneTime: 2_290_000, KeystoneBonus: &bonus, Kill: true, Deaths: 11,
			},
		},
	}
}
