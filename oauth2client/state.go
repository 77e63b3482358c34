/*
 * Copyright 2025 Holger de Carne
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package oauth2client

import (
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
)

const stateName = "fakeid_state"

const stateLifetime = 10 * time.Minute

type authorizeState struct {
	Nonce    string `json:"nonce"`
	IssuedAt int64  `json:"iat"`
}

// stateCodec signs authorize states, so a client can tell its own states
// apart from replayed or foreign ones and recover the nonce it sent.
type stateCodec struct {
	codec *securecookie.SecureCookie
}

func newStateCodec() *stateCodec {
	codec := securecookie.New(securecookie.GenerateRandomKey(32), nil)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(stateLifetime.Seconds()))
	return &stateCodec{codec: codec}
}

func (c *stateCodec) encode(nonce string) (string, error) {
	state, err := c.codec.Encode(stateName, &authorizeState{Nonce: nonce, IssuedAt: time.Now().Unix()})
	if err != nil {
		return "", fmt.Errorf("failed to encode state (cause: %w)", err)
	}
	return state, nil
}

func (c *stateCodec) decode(state string) (string, error) {
	decoded := &authorizeState{}
	err := c.codec.Decode(stateName, state, decoded)
	if err != nil {
		return "", fmt.Errorf("%w (invalid state: %w)", ErrUnexpectedResponse, err)
	}
	return decoded.Nonce, nil
}
