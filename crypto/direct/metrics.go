package direct

import (
	"time"

	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/internal/metrics"
)

func metricsTimer() time.Time { return time.Now() }

func recordDuration(operation string, start time.Time) {
	metrics.CryptoOperationDuration.WithLabelValues(operation, string(crypto.ModeDirect)).Observe(time.Since(start).Seconds())
}
