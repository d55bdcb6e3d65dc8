/*
Copyright 2025.

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

package results

// OperationResult represents the result of a single step of a report cycle.
type OperationResult struct {
	CancelRequest bool
}

// ContinueProcessing returns an (OperationResult, error) tuple instructing the cycle to continue with the
// next operation.
func ContinueProcessing() (OperationResult, error) {
	return OperationResult{CancelRequest: false}, nil
}

// StopProcessing returns an (OperationResult, error) tuple instructing the cycle to stop without an error,
// e.g. because there is nothing left to report.
func StopProcessing() (OperationResult, error) {
	return OperationResult{CancelRequest: true}, nil
}

// StopWithError returns an (OperationResult, error) tuple instructing the cycle to stop and report the
// given error.
func StopWithError(err error) (OperationResult, error) {
	return OperationResult{CancelRequest: true}, err
}

// StopOnErrorOrContinue returns an (OperationResult, error) tuple instructing the cycle to stop in case of
// an error or to continue processing operations.
func StopOnErrorOrContinue(err error) (OperationResult, error) {
	return OperationResult{CancelRequest: err != nil}, err
}

// Operation is a single step of a report cycle.
type Operation func() (OperationResult, error)

// ProcessOperations runs the given operations in order until one of them cancels the request. The error of the
// last operation run is returned.
func ProcessOperations(operations []Operation) error {
	for _, operation := range operations {
		result, err := operation()
		if err != nil || result.CancelRequest {
			return err
		}
	}

	return nil
}
