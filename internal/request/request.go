/*
Copyright 2024 Blnk Finance Authors.

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

package request

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"
)

// httpClient is shared by all outbound calls (FX rate sources, merchant
// webhooks, slack). Rate sources and webhooks bound their own attempts,
// this timeout is the hard ceiling per request.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// ToJsonReq serializes payload into a buffer suitable for an HTTP request
// body.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(c), nil
}

// Call sends req with a JSON content type and decodes the JSON response
// body into response. The raw *http.Response is returned so callers can
// inspect the status code.
func Call(req *http.Request, response interface{}) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return resp, err
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return resp, err
	}
	return resp, nil
}

// BasicAuth encodes username:password for an Authorization header.
func BasicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}
