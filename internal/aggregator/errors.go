package aggregator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FetchError reports a store failure for one hospital scope. The scope gets no
// partial report.
type FetchError struct {
	Collection string
	Scope      []string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for hospital scope [%s]: %v", e.Collection, strings.Join(e.Scope, ","), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Collection string   `json:"collection"`
		Scope      []string `json:"scope"`
		Error      string   `json:"error"`
	}{e.Collection, e.Scope, e.Err.Error()})
}
