// Command synccore-demo wires every reference implementation together
// and runs one account's sync loop against real backends: bbolt for
// secrets/settings/sync state, Postgres for the local entity store,
// and a plain HTTP+JSON note store transport. It exists to show the
// whole module assembled end to end.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/notewell/synccore"
	"github.com/notewell/synccore/authprovider"
	"github.com/notewell/synccore/boltstore"
	"github.com/notewell/synccore/download"
	"github.com/notewell/synccore/httprpc"
	"github.com/notewell/synccore/jwtauth"
	"github.com/notewell/synccore/localstore"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
	"github.com/notewell/synccore/pgstore"
	"github.com/notewell/synccore/send"
	"github.com/notewell/synccore/status"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "synccore-demo").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgURL := env("DATABASE_URL", "")
	if pgURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	local := pgstore.New(pool)

	boltDataDir := env("BOLT_DATA_DIR", "./synccore-data")
	bolt, err := boltstore.Open(boltDataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open bbolt store")
	}
	defer bolt.Close()

	flow := func(ctx context.Context) (string, error) {
		return "", os.ErrNotExist // replace with a real device-code or browser flow
	}
	authn := jwtauth.New(jwtauth.Config{
		Issuer:  env("AUTH_ISSUER", ""),
		JWKSUrl: env("AUTH_JWKS_URL", ""),
	}, flow)

	sharedNB := func(ctx context.Context, lnb model.LinkedNotebook, ownToken string) (model.AuthenticationInfo, error) {
		client, err := httprpc.NewFactory(30 * time.Second).NewClient(lnb.NoteStoreURL)
		if err != nil {
			return model.AuthenticationInfo{}, err
		}
		result, err := client.AuthenticateToSharedNotebook(ctx, notestore.RequestContext{AuthToken: ownToken}, lnb.SharedNotebookGlobalID)
		if err != nil {
			return model.AuthenticationInfo{}, err
		}
		return result.AuthenticationInfo, nil
	}

	auth := authprovider.New(env("APP_NAME", "synccore-demo"), bolt, bolt.Settings(), authn, sharedNB)

	factory := httprpc.NewFactory(30 * time.Second)
	stores := notestore.NewProvider(factory, local)

	maintenance := localstore.NewMaintenance(local)

	downloader := download.New(bolt.SyncState(), auth, stores, local, maintenance, maintenance)
	sender := send.New(bolt.SyncState(), auth, stores, local)

	engine := synccore.New(bolt.SyncState(), downloader, sender)
	engine.OnDownloadProgress(func(c status.CountersSnapshot) {
		log.Ctx(ctx).Debug().
			Int("notebooks_processed", c.Notebooks.ProcessedPresent).
			Int("tags_processed", c.Tags.ProcessedPresent).
			Msg("download progress")
	})
	engine.OnSendProgress(func(s status.SendSnapshot) {
		log.Ctx(ctx).Debug().
			Int("notes_attempted", s.NotesAttempted).
			Int("notes_succeeded", s.NotesSucceeded).
			Msg("send progress")
	})

	account := model.Account{
		UserID:       0, // this demo never calls AuthenticateNewAccount, so it stays 0
		EvernoteHost: env("EVERNOTE_HOST", "www.evernote.com"),
		Username:     env("EVERNOTE_USERNAME", ""),
	}

	interval := 5 * time.Minute

	log.Info().Str("host", account.EvernoteHost).Dur("interval", interval).Msg("starting sync loop")
	engine.SyncLoop(ctx, account, interval, func(err error) {
		log.Error().Err(err).Msg("sync cycle failed")
	})

	log.Info().Msg("synccore-demo stopped")
}
