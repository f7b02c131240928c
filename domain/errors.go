//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package domain

import "fmt"

// ErrorKind classifies every error peripetyd and prpt produce. Parser
// workers log and drop the event on every kind; the CLI surfaces the Kind
// to the user as part of the error string.
type ErrorKind int

const (
	NoSupport ErrorKind = iota
	BlockNoExists
	InvalidArgument
	ConfError
	LogSeverityParseError
	StorageSubSystemParseError
	JsonSerializeError
	JsonDeserializeError
	LogAccessError
	InternalBug
)

func (k ErrorKind) String() string {
	switch k {
	case NoSupport:
		return "NoSupport"
	case BlockNoExists:
		return "BlockNoExists"
	case InvalidArgument:
		return "InvalidArgument"
	case ConfError:
		return "ConfError"
	case LogSeverityParseError:
		return "LogSeverityParseError"
	case StorageSubSystemParseError:
		return "StorageSubSystemParseError"
	case JsonSerializeError:
		return "JsonSerializeError"
	case JsonDeserializeError:
		return "JsonDeserializeError"
	case LogAccessError:
		return "LogAccessError"
	case InternalBug:
		return "InternalBug"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every peripetyd package.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
