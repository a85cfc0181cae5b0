// MIT License
//
// Copyright (c) 2024-2026 Kestrel Works
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package journal

import "fmt"

type completionKind int

const (
	completionEmpty completionKind = iota + 1
	completionSuccess
	completionFailure
)

// CompletionResult is the outcome supplied for a pending step: empty, a
// success value, or a failure with an error code and message.
type CompletionResult struct {
	kind      completionKind
	value     []byte
	errorCode uint32
	message   string
}

// EmptyResult creates a completion without a value, e.g. a sleep that
// elapsed or a state read that found nothing.
func EmptyResult() CompletionResult {
	return CompletionResult{kind: completionEmpty}
}

// SuccessResult creates a completion carrying a value.
func SuccessResult(value []byte) CompletionResult {
	return CompletionResult{kind: completionSuccess, value: value}
}

// FailureResult creates a completion carrying an error.
func FailureResult(errorCode uint32, message string) CompletionResult {
	return CompletionResult{kind: completionFailure, errorCode: errorCode, message: message}
}

// IsEmpty reports whether the completion carries neither value nor error.
func (c CompletionResult) IsEmpty() bool {
	return c.kind == completionEmpty
}

// IsSuccess reports whether the completion carries a value.
func (c CompletionResult) IsSuccess() bool {
	return c.kind == completionSuccess
}

// IsFailure reports whether the completion carries an error.
func (c CompletionResult) IsFailure() bool {
	return c.kind == completionFailure
}

// Value returns the success value. Empty for the other variants.
func (c CompletionResult) Value() []byte {
	return c.value
}

// Failure returns the error code and message of a failure completion.
func (c CompletionResult) Failure() (uint32, string) {
	return c.errorCode, c.message
}

// String returns a human-readable representation of the completion.
func (c CompletionResult) String() string {
	switch c.kind {
	case completionEmpty:
		return "Empty"
	case completionSuccess:
		return fmt.Sprintf("Success(%d bytes)", len(c.value))
	case completionFailure:
		return fmt.Sprintf("Failure(code=%d, %s)", c.errorCode, c.message)
	default:
		return "Unknown"
	}
}

// Completion pairs a completion result with the journal index it targets.
// It is the payload of completion commands and timer fires.
type Completion struct {
	EntryIndex EntryIndex
	Result     CompletionResult
}

// NewCompletion creates an instance of Completion.
func NewCompletion(entryIndex EntryIndex, result CompletionResult) Completion {
	return Completion{
		EntryIndex: entryIndex,
		Result:     result,
	}
}
