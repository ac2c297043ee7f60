/*
Package health provides the health check primitives used to decide whether a
service the task runner manages is actually up: HTTP, TCP, and Exec checks,
plus a Status tracker that applies hysteresis so a single flaky probe
doesn't flip a service's health state back and forth.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                   Health Check System                       │
	└─────┬──────────────────────────────────────────────────────┘
	      │
	      ▼
	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────┐
	    ▼           ▼          ▼
	┌────────┐  ┌──────┐  ┌────────┐
	│  HTTP  │  │ TCP  │  │  Exec  │
	│Checker │  │Checker│ │Checker │
	└────────┘  └──────┘  └────────┘
	     │          │          │
	     ▼          ▼          ▼
	  GET /    Connect     Run cmd
	  /health    :port      on host

# Health Check Types

## HTTP Health Checks

HTTP checks perform HTTP requests to verify a service's health endpoint:

	Check Type: HTTP
	Configuration:
	├── URL: http://127.0.0.1:8080/health
	├── Method: GET, POST, HEAD
	├── Headers: Custom HTTP headers
	├── Expected Status: 200-399 (configurable)
	└── Timeout: 10 seconds

## TCP Health Checks

TCP checks verify that a port is listening and accepting connections:

	Check Type: TCP
	Configuration:
	├── Address: 127.0.0.1:6379
	├── Timeout: 5 seconds
	└── Connection test only (no data sent)

## Exec Health Checks

Exec checks run a command and check its exit code:

	Check Type: Exec
	Configuration:
	├── Command: ["systemctl", "is-active", "nginx"]
	├── Timeout: 10 seconds
	├── Exit code 0 → Healthy
	└── Exit code != 0 → Unhealthy

# Core Components

## Checker Interface

All health checkers implement this interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

## Result Structure

	type Result struct {
		Healthy   bool
		Message   string
		CheckedAt time.Time
		Duration  time.Duration
	}

## Status Tracking

Status tracks health over time and implements hysteresis so a run of
consecutive failures is required before a service is marked unhealthy,
and a single success clears it:

	type Status struct {
		ConsecutiveFailures  int
		ConsecutiveSuccesses int
		LastCheck            time.Time
		LastResult           Result
		Healthy              bool
		StartedAt            time.Time
	}

# Usage

The task runner's check_service payload picks a checker based on whether
the task carries a CheckURL:

	var checker health.Checker
	if checkURL != "" {
		checker = health.NewHTTPChecker(checkURL).WithTimeout(30 * time.Second)
	} else {
		checker = health.NewExecChecker([]string{"systemctl", "is-active", name}).
			WithTimeout(30 * time.Second)
	}
	result := checker.Check(ctx)

# See Also

  - pkg/runner - drives these checkers from check_service task payloads
*/
package health
