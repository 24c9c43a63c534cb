// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package types

import "errors"

var (
	// ErrUpstreamUnavailable is a network or HTTP status failure talking to
	// the feed or a scoring service.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedFeed means the feed response did not match the catalog schema.
	ErrMalformedFeed = errors.New("malformed feed")

	// ErrCacheCorrupt means the persisted cache could not be read or parsed.
	ErrCacheCorrupt = errors.New("cache corrupt")

	// ErrPersistence means the new cache could not be written. The previous
	// cache is left intact.
	ErrPersistence = errors.New("persistence failure")
)
