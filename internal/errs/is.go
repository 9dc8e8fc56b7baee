/*
Copyright 2026 The LVS Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package errs

import "errors"

// IsNotFound reports whether err is, or wraps, an ErrNotFound.
func IsNotFound(err error) bool {
	var e ErrNotFound
	return errors.As(err, &e)
}

// IsAlreadyExists reports whether err is, or wraps, an ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	var e ErrAlreadyExists
	return errors.As(err, &e)
}

// IsBusy reports whether err is, or wraps, an ErrBusy.
func IsBusy(err error) bool {
	var e ErrBusy
	return errors.As(err, &e)
}

// IsInvalidArgument reports whether err is, or wraps, an ErrInvalidArgument.
func IsInvalidArgument(err error) bool {
	var e ErrInvalidArgument
	return errors.As(err, &e)
}
