// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bandwidth rate-limits egress and ingress piece payload traffic,
// so that a single swarm cannot saturate the host's network link.
package bandwidth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// Config defines Limiter parameters. BitsPerSec fields are the allowed
// rate; TokenSize is the number of bits a single rate-limiter token
// represents, trading off reservation granularity against how many
// distinct token buckets get consumed per call.
type Config struct {
	EgressBitsPerSec  uint64
	IngressBitsPerSec uint64
	TokenSize         int64
	Enable            bool
}

// Limiter rate-limits egress and ingress traffic independently. A disabled
// Limiter allows any amount of traffic through unconditionally.
type Limiter struct {
	config    Config
	tokenSize int64

	egress  *rate.Limiter
	ingress *rate.Limiter

	egressBps  int64
	ingressBps int64
}

// NewLimiter constructs a Limiter from config. If config.Enable is false,
// the returned Limiter allows all reservations through without blocking.
func NewLimiter(config Config) (*Limiter, error) {
	if !config.Enable {
		return &Limiter{config: config, tokenSize: config.TokenSize}, nil
	}
	if config.EgressBitsPerSec == 0 {
		return nil, errors.New("bandwidth: egress bits per sec must be positive")
	}
	if config.IngressBitsPerSec == 0 {
		return nil, errors.New("bandwidth: ingress bits per sec must be positive")
	}
	if config.TokenSize <= 0 {
		return nil, errors.New("bandwidth: token size must be positive")
	}

	l := &Limiter{
		config:     config,
		tokenSize:  config.TokenSize,
		egressBps:  int64(config.EgressBitsPerSec),
		ingressBps: int64(config.IngressBitsPerSec),
	}
	l.egress = newTokenBucket(l.egressBps, l.tokenSize)
	l.ingress = newTokenBucket(l.ingressBps, l.tokenSize)
	return l, nil
}

func newTokenBucket(bitsPerSec, tokenSize int64) *rate.Limiter {
	tokensPerSec := bitsPerSec / tokenSize
	if tokensPerSec < 1 {
		tokensPerSec = 1
	}
	return rate.NewLimiter(rate.Limit(tokensPerSec), int(tokensPerSec))
}

func (l *Limiter) tokensFor(nbytes int64) int64 {
	if l.tokenSize <= 0 {
		// Only a disabled Limiter can have no token size; it reserves nothing.
		return 1
	}
	tokens := (nbytes * 8) / l.tokenSize
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// ReserveEgress blocks until nbytes worth of egress bandwidth is
// available. Returns an error if nbytes would never fit in the bucket.
func (l *Limiter) ReserveEgress(nbytes int64) error {
	return reserve(l.egress, l.tokensFor(nbytes))
}

// ReserveIngress blocks until nbytes worth of ingress bandwidth is
// available. Returns an error if nbytes would never fit in the bucket.
func (l *Limiter) ReserveIngress(nbytes int64) error {
	return reserve(l.ingress, l.tokensFor(nbytes))
}

func reserve(limiter *rate.Limiter, tokens int64) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.WaitN(context.Background(), int(tokens)); err != nil {
		return fmt.Errorf("bandwidth: reserve %d tokens: %w", tokens, err)
	}
	return nil
}

// Adjust rescales both limits to their configured value divided by denom,
// rounded up, with a floor of 1 bit/sec. It always recomputes from the
// original config, so repeated calls with different denom values are not
// cumulative.
func (l *Limiter) Adjust(denom int) error {
	if denom == 0 {
		return errors.New("bandwidth: denom must be non-zero")
	}
	if l.egress == nil {
		return nil
	}
	l.egressBps = ceilDiv(int64(l.config.EgressBitsPerSec), int64(denom))
	l.ingressBps = ceilDiv(int64(l.config.IngressBitsPerSec), int64(denom))

	egressTokensPerSec := l.egressBps / l.tokenSize
	if egressTokensPerSec < 1 {
		egressTokensPerSec = 1
	}
	l.egress.SetLimit(rate.Limit(egressTokensPerSec))
	l.egress.SetBurst(int(egressTokensPerSec))

	ingressTokensPerSec := l.ingressBps / l.tokenSize
	if ingressTokensPerSec < 1 {
		ingressTokensPerSec = 1
	}
	l.ingress.SetLimit(rate.Limit(ingressTokensPerSec))
	l.ingress.SetBurst(int(ingressTokensPerSec))

	return nil
}

func ceilDiv(a, b int64) int64 {
	v := (a + b - 1) / b
	if v < 1 {
		v = 1
	}
	return v
}

// EgressLimit returns the current egress limit in bits per second.
func (l *Limiter) EgressLimit() int64 {
	return l.egressBps
}

// IngressLimit returns the current ingress limit in bits per second.
func (l *Limiter) IngressLimit() int64 {
	return l.ingressBps
}
