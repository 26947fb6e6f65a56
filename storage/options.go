// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// Transaction isolation levels of MySQL sessions.
const (
	ReadUncommitted = "READ-UNCOMMITTED"
	ReadCommitted   = "READ-COMMITTED"
	RepeatableRead  = "REPEATABLE-READ"
	Serializable    = "SERIALIZABLE"
)

// Options configures connections opened by data.Open. Zero pool limits keep the
// database/sql defaults.
type Options struct {
	IsolationLevel  string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Option func(*Options)

// WithIsolationLevel sets the isolation level of MySQL sessions. Empty keeps the default.
func WithIsolationLevel(isolationLevel string) Option {
	return func(o *Options) {
		if isolationLevel != "" {
			o.IsolationLevel = isolationLevel
		}
	}
}

func WithMaxOpenConns(maxOpenConns int) Option {
	return func(o *Options) {
		o.MaxOpenConns = maxOpenConns
	}
}

func WithMaxIdleConns(maxIdleConns int) Option {
	return func(o *Options) {
		o.MaxIdleConns = maxIdleConns
	}
}

func WithConnMaxLifetime(connMaxLifetime time.Duration) Option {
	return func(o *Options) {
		o.ConnMaxLifetime = connMaxLifetime
	}
}

// ApplySQLPool sets the pool limits that are positive.
func (o Options) ApplySQLPool(db *sql.DB) {
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.MaxIdleConns > 0 {
		db.SetMaxIdleConns(o.MaxIdleConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}
}

func (o Options) ZapFields() []zap.Field {
	return []zap.Field{
		zap.String("isolation_level", o.IsolationLevel),
		zap.Int("max_open_conns", o.MaxOpenConns),
		zap.Int("max_idle_conns", o.MaxIdleConns),
		zap.Duration("conn_max_lifetime", o.ConnMaxLifetime),
	}
}

func NewOptions(opts ...Option) Options {
	opt := Options{
		IsolationLevel: ReadUncommitted,
	}
	for _, o := range opts {
		o(&opt)
	}
	return opt
}
