//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoTransfer.
//
// GoTransfer is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoTransfer is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoTransfer. If not, see https://www.gnu.org/licenses/.

// Package hooks builds the source and destination hooks a transfer reads
// from and writes to.
//
// The set of kinds is closed. Constructors validate params before any I/O
// and return core.InvalidHookConfigError on failure; connections open on
// the first Read or Write.
package hooks

import (
	"net/http"

	"github.com/aaronlmathis/gotransfer/core"
)

// SourceKind names a readable hook.
type SourceKind string

const (
	SourceObjectStorage  SourceKind = "object_storage"
	SourceWarehouseTable SourceKind = "warehouse_table"
)

// DestinationKind names a writable hook.
type DestinationKind string

const (
	DestinationGoogleAnalytics       DestinationKind = "google_analytics"
	DestinationGoogleAnalytics4      DestinationKind = "google_analytics_4"
	DestinationAdsCustomerMatch      DestinationKind = "ads_customer_match"
	DestinationAdsOfflineConversions DestinationKind = "ads_offline_conversions"
	DestinationAdsAppCampaign        DestinationKind = "ads_app_campaign"
	DestinationCampaignManager       DestinationKind = "campaign_manager"
)

type destinationFactory func(Params, Dispatcher) (*destination, error)

var destinationFactories = map[DestinationKind]destinationFactory{
	DestinationGoogleAnalytics:       newGAHook,
	DestinationGoogleAnalytics4:      newGA4Hook,
	DestinationAdsCustomerMatch:      newCustomerMatchHook,
	DestinationAdsOfflineConversions: newOfflineConversionsHook,
	DestinationAdsAppCampaign:        newAppCampaignHook,
	DestinationCampaignManager:       newCampaignManagerHook,
}

// SourceKinds lists every supported source kind.
func SourceKinds() []SourceKind {
	return []SourceKind{SourceObjectStorage, SourceWarehouseTable}
}

// DestinationKinds lists every supported destination kind.
func DestinationKinds() []DestinationKind {
	return []DestinationKind{
		DestinationGoogleAnalytics,
		DestinationGoogleAnalytics4,
		DestinationAdsCustomerMatch,
		DestinationAdsOfflineConversions,
		DestinationAdsAppCampaign,
		DestinationCampaignManager,
	}
}

// Registry maps hook kinds to constructors.
type Registry struct {
	s3Client   S3ClientFactory
	openDB     DBOpener
	httpClient *http.Client
	dispatcher Dispatcher
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithS3ClientFactory replaces the S3 client used by object storage sources.
func WithS3ClientFactory(f S3ClientFactory) RegistryOption {
	return func(r *Registry) { r.s3Client = f }
}

// WithDBOpener replaces the warehouse connection opener.
func WithDBOpener(f DBOpener) RegistryOption {
	return func(r *Registry) { r.openDB = f }
}

// WithHTTPClient sets the client used by HTTP dispatchers.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(r *Registry) { r.httpClient = c }
}

// WithDispatcher sends every destination through d instead of the
// dispatcher described by the dispatch_* params.
func WithDispatcher(d Dispatcher) RegistryOption {
	return func(r *Registry) { r.dispatcher = d }
}

// NewRegistry creates a Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateReadable builds a source hook.
func (r *Registry) CreateReadable(kind string, params map[string]interface{}) (core.Readable, error) {
	switch SourceKind(kind) {
	case SourceObjectStorage:
		return NewObjectStorageSource(params, r.s3Client)
	case SourceWarehouseTable:
		return NewWarehouseSource(params, r.openDB)
	default:
		return nil, &core.UnsupportedHookError{Kind: kind}
	}
}

// CreateWritable builds a destination hook. The result also implements
// core.BatchWritable.
func (r *Registry) CreateWritable(kind string, params map[string]interface{}) (core.Writable, error) {
	factory, ok := destinationFactories[DestinationKind(kind)]
	if !ok {
		return nil, &core.UnsupportedHookError{Kind: kind}
	}

	d, err := factory(params, r.dispatcher)
	if err != nil {
		return nil, err
	}
	if d.dispatcher == nil {
		if d.dispatcher, err = dispatcherFromParams(newParamReader(kind, params), r.httpClient); err != nil {
			return nil, err
		}
	}
	return d, nil
}
