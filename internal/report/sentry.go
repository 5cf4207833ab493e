package report

import (
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

// SetupSentry initialises the global Sentry client from SENTRY_DSN.
// With an empty DSN the client is a no-op, so local runs need no setup.
func SetupSentry(env, version string) {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              os.Getenv("SENTRY_DSN"),
		Environment:      env,
		Release:          "livemap@" + version,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
	}); err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	sentry.CaptureMessage("Livemap started")
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
