package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var UnknownRotationModeError = errors.New("unknown proxy rotation mode")

type RotationMode string

const (
	// RotationRecycle reuses sessions up to a usage cap, pool sized for concurrency.
	RotationRecycle RotationMode = "RECYCLE"
	// RotationPerRequest takes a fresh proxy identity for every request.
	RotationPerRequest RotationMode = "PER_REQUEST"
	// RotationRecommended keeps sessions until they fail, pool sized for concurrency.
	RotationRecommended RotationMode = "RECOMMENDED"
	// RotationUntilFailure keeps a single session until it fails.
	RotationUntilFailure RotationMode = "UNTIL_FAILURE"
)

func ParseRotationMode(s string) (RotationMode, error) {
	mode := RotationMode(strings.ToUpper(strings.TrimSpace(s)))
	switch mode {
	case RotationRecycle, RotationPerRequest, RotationRecommended, RotationUntilFailure:
		return mode, nil
	case "":
		return RotationRecycle, nil
	}
	return "", fmt.Errorf("%w: %q", UnknownRotationModeError, s)
}

// InputSchema is the full run configuration. It is not modified after the run starts.
type InputSchema struct {
	MaxConcurrency    int
	MaxRequestRetries int
	MaxPagesPerCrawl  int
	ProxyRotation     RotationMode
	SessionMaxUsage   int
	ProxyURLs         []string
	ExternalAPI       string
	HealthCheck       string
	Headless          bool
	RequestsPerSecond float64
	SelectorTimeout   time.Duration
	ResultsSelector   string
	PostSelector      string
	StartURLs         []string
}
