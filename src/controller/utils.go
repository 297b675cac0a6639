package controller

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"krakendca/src/model"

	logger "github.com/sirupsen/logrus"
)

// ExceptionRecorder persists captured exceptions. *repository.ExceptionRepository
// satisfies it.
type ExceptionRecorder interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Capture records a system exception and persists it when recorder is set. The caller
// owns the user-facing log line; Capture only logs at debug level.
func Capture(
	ctx context.Context,
	recorder ExceptionRecorder,
	service string,
	module string,
	method string,
	level string,
	err error,
	contextData map[string]interface{},
) {

	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   service,
		Module:    module,
		Method:    method,
		Symbol:    stringField(contextData, "symbol"),
		TxID:      stringField(contextData, "txid"),
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}

	// Local log
	logger.WithFields(map[string]interface{}{
		"service": service,
		"module":  module,
		"method":  method,
		"level":   level,
	}).WithError(err).Debug("System exception captured")

	// Persist in database
	if recorder != nil {
		if e := recorder.Create(ctx, exc); e != nil {
			logger.WithError(e).Error("Failed to persist exception")
		}
	}
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
