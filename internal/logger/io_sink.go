// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"encoding/json"
	"io"
	"log"
)

// IOSink writes structured log lines to an io.Writer as single-line JSON
// objects. NewWithWriter uses it; a Logger built by New with a nil sink
// uses a plain-text os.Stderr sink instead, which prints only the message.
type IOSink struct {
	log *log.Logger
}

// Compile-time check to ensure IOSink implements the LogSink interface.
var _ LogSink = &IOSink{}

// NewIOSink creates a new IOSink that writes to the provided io.Writer.
func NewIOSink(out io.Writer) *IOSink {
	return &IOSink{
		log: log.New(out, "", log.LstdFlags),
	}
}

// Info writes the provided message and key-value pairs to the io.Writer as
// a JSON object.
func (s *IOSink) Info(_ int, msg string, keysAndValues ...interface{}) {
	kv := make(map[string]interface{}, len(keysAndValues)/2+1)
	kv[KeyMessage] = msg

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		kv[key] = keysAndValues[i+1]
	}

	line, err := json.Marshal(kv)
	if err != nil {
		s.log.Printf(`{"message":%q,"logError":%q}`, msg, err.Error())
		return
	}
	s.log.Println(string(line))
}

// Error writes the provided error and key-value pairs to the io.Writer as a JSON object.
func (s *IOSink) Error(err error, msg string, kv ...interface{}) {
	s.Info(0, msg, append(kv, "error", err.Error())...)
}
