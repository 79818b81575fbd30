// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package bus

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/calyxhealth/calyx/internal/logging"
)

// wmLogger adapts Watermill's LoggerAdapter onto zerolog so transport
// internals log through the global logger like everything else.
type wmLogger struct {
	logger zerolog.Logger
}

// NewWatermillLogger returns a watermill.LoggerAdapter backed by the
// global zerolog logger with a component field.
func NewWatermillLogger() watermill.LoggerAdapter {
	return &wmLogger{logger: logging.With().Str("component", "bus-transport").Logger()}
}

func (l *wmLogger) emit(evt *zerolog.Event, msg string, err error, fields watermill.LogFields) {
	if err != nil {
		evt = evt.Err(err)
	}
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg(msg)
}

func (l *wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.emit(l.logger.Error(), msg, err, fields)
}

func (l *wmLogger) Info(msg string, fields watermill.LogFields) {
	l.emit(l.logger.Info(), msg, nil, fields)
}

func (l *wmLogger) Debug(msg string, fields watermill.LogFields) {
	l.emit(l.logger.Debug(), msg, nil, fields)
}

func (l *wmLogger) Trace(msg string, fields watermill.LogFields) {
	l.emit(l.logger.Trace(), msg, nil, fields)
}

func (l *wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &wmLogger{logger: ctx.Logger()}
}
