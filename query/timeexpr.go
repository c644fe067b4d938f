// Package query implements the QUERY process from spec.md §6: a
// short-lived HTTP worker per request, reading records through STORAGE
// and optionally replaying them through a module's reverse transform.
//
// Grounded on _examples/original_source/src/branches/2.0/query.c and
// query-http.c for the URI/parameter surface, and on the teacher's own
// fasthttp-based S3 proxy handler
// (_examples/ghjramos-aistore/ais/prxs3.go) for the
// "single entrypoint, switch on path shape, write through a
// fasthttp.RequestCtx" idiom.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package query

import (
	"strconv"
	"strings"
	"time"

	"github.com/como-project/como/cmn"
)

// TimeRange is a resolved [Start, End) query window in Unix seconds.
type TimeRange struct {
	Start, End int64
}

// ParseTimeExpr resolves spec.md §6's `time=A:B` compound parameter,
// where each side is `0` (now), `@ccyymmddhhmmss`, or a `±Nd Nh Nm Ns`
// offset from now.
func ParseTimeExpr(expr string, now time.Time) (TimeRange, error) {
	parts := strings.SplitN(expr, ":", 2)
	if len(parts) != 2 {
		return TimeRange{}, cmn.Errorf(cmn.KindMalformed, "time expression %q: expected A:B", expr)
	}
	start, err := parseTimeSide(parts[0], now)
	if err != nil {
		return TimeRange{}, err
	}
	end, err := parseTimeSide(parts[1], now)
	if err != nil {
		return TimeRange{}, err
	}
	return TimeRange{Start: start, End: end}, nil
}

func parseTimeSide(side string, now time.Time) (int64, error) {
	side = strings.TrimSpace(side)
	switch {
	case side == "0" || side == "":
		return now.Unix(), nil
	case strings.HasPrefix(side, "@"):
		t, err := time.ParseInLocation("20060102150405", side[1:], time.UTC)
		if err != nil {
			return 0, cmn.Wrap(cmn.KindMalformed, err, "parse absolute time "+side)
		}
		return t.Unix(), nil
	case side[0] == '+' || side[0] == '-':
		d, err := parseSignedOffset(side)
		if err != nil {
			return 0, err
		}
		return now.Add(d).Unix(), nil
	default:
		return 0, cmn.Errorf(cmn.KindMalformed, "unrecognized time expression term %q", side)
	}
}

// parseSignedOffset parses "±Nd Nh Nm Ns" — any subset of the four
// unit suffixes, in any order, space-separated.
func parseSignedOffset(side string) (time.Duration, error) {
	sign := time.Duration(1)
	if side[0] == '-' {
		sign = -1
	}
	side = side[1:]

	var total time.Duration
	for _, field := range strings.Fields(side) {
		if len(field) < 2 {
			return 0, cmn.Errorf(cmn.KindMalformed, "malformed time offset term %q", field)
		}
		unit := field[len(field)-1]
		n, err := strconv.Atoi(field[:len(field)-1])
		if err != nil {
			return 0, cmn.Wrap(cmn.KindMalformed, err, "parse time offset term "+field)
		}
		var u time.Duration
		switch unit {
		case 'd':
			u = 24 * time.Hour
		case 'h':
			u = time.Hour
		case 'm':
			u = time.Minute
		case 's':
			u = time.Second
		default:
			return 0, cmn.Errorf(cmn.KindMalformed, "unknown time offset unit %q", string(unit))
		}
		total += time.Duration(n) * u
	}
	return sign * total, nil
}
