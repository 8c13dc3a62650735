package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

const serverName = "credential-service"

// InitSentry is a no-op when dsn is empty; capture calls then go nowhere.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		ServerName:       serverName,
		AttachStacktrace: true,
		SendDefaultPII:   false,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
