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

package hooks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gotransfer/core"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []DispatchRequest
	respond  func(DispatchRequest) (DispatchResult, error)
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	if d.respond != nil {
		return d.respond(req)
	}
	return DispatchResult{}, nil
}

func newTestDestination(t *testing.T, kind DestinationKind, extra Params, d Dispatcher) core.BatchWritable {
	t.Helper()
	w, err := NewRegistry(WithDispatcher(d)).CreateWritable(string(kind), merge(validDestinationParams[kind], extra))
	require.NoError(t, err)
	return w.(core.BatchWritable)
}

func TestGAHitEncoding(t *testing.T) {
	d := &recordingDispatcher{}
	w := newTestDestination(t, DestinationGoogleAnalytics, Params{"ga_base_params": "cd1=x"}, d)

	out := w.Write(context.Background(), core.Record{"cid": "12345.67890", "ea": "buy", "ev": int64(1)}.WithKey("k"))
	require.True(t, out.Succeeded(), out.Reason)
	require.Len(t, d.requests, 1)

	hit := d.requests[0].Records[0].(string)
	for _, part := range []string{"tid=UA-12323-4", "v=1", "t=event", "cid=12345.67890", "ea=buy", "ev=1", "cd1=x"} {
		assert.Contains(t, hit, part)
	}
	assert.NotContains(t, hit, "_record_key")
}

func TestGARejectsInvalidHits(t *testing.T) {
	d := &recordingDispatcher{}
	w := newTestDestination(t, DestinationGoogleAnalytics, nil, d)

	out := w.WriteBatch(context.Background(), []core.Record{
		{"ea": "no id"},
		{"cid": "1", "dp": strings.Repeat("x", 8192)},
		{"uid": "u1"},
	})
	assert.Equal(t, core.ErrMissingField, out[0].ErrorNum)
	assert.Equal(t, core.ErrPayloadTooLarge, out[1].ErrorNum)
	assert.True(t, out[2].Succeeded())
	require.Len(t, d.requests, 1)
	assert.Len(t, d.requests[0].Records, 1)
}

func TestGABatchPacking(t *testing.T) {
	small := make([]interface{}, 40)
	for i := range small {
		small[i] = strings.Repeat("s", 100)
	}
	assert.Len(t, packGAHits(small), 2)

	medium := make([]interface{}, 20)
	for i := range medium {
		medium[i] = strings.Repeat("m", 4000)
	}
	batches := packGAHits(medium)
	assert.Len(t, batches, 5)
	for _, b := range batches {
		assert.Len(t, b, 4)
	}
}

func TestGA4Payloads(t *testing.T) {
	d := &recordingDispatcher{}
	w := newTestDestination(t, DestinationGoogleAnalytics4, nil, d)

	records := []core.Record{
		{"payload": `{"client_id":"cid","events":[{"name":"add_to_cart","params":{"quantity":1}}]}`},
		{"payload": "{"},
		{"payload": `{"events":[{"name":"x"}]}`},
		{"client_id": "c", "events": []interface{}{}},
		{"client_id": "c", "events": []interface{}{map[string]interface{}{"name": "x"}}, "timestamp_micros": "soon"},
		{"client_id": "c", "events": []interface{}{map[string]interface{}{"name": "x"}}, "user_properties": "p"},
	}
	out := w.WriteBatch(context.Background(), records)
	assert.True(t, out[0].Succeeded(), out[0].Reason)
	assert.Equal(t, core.ErrInvalidPayload, out[1].ErrorNum)
	assert.Equal(t, core.ErrMissingField, out[2].ErrorNum)
	assert.Equal(t, core.ErrInvalidFieldValue, out[3].ErrorNum)
	assert.Equal(t, core.ErrInvalidFieldValue, out[4].ErrorNum)
	assert.Equal(t, core.ErrInvalidFieldValue, out[5].ErrorNum)

	require.Len(t, d.requests, 1)
	assert.Equal(t, "G-1", d.requests[0].Target["measurement_id"])
}

func TestGA4FirebaseNeedsAppInstanceID(t *testing.T) {
	w := newTestDestination(t, DestinationGoogleAnalytics4, Params{
		"ga4_payload_type":    "firebase",
		"ga4_measurement_id":  nil,
		"ga4_firebase_app_id": "1:2:android:3",
	}, &recordingDispatcher{})

	out := w.Write(context.Background(), core.Record{"client_id": "c", "events": []interface{}{map[string]interface{}{"name": "x"}}})
	assert.Equal(t, core.ErrMissingField, out.ErrorNum)
}

func TestCustomerMatchGroupsByCustomer(t *testing.T) {
	d := &recordingDispatcher{}
	w := newTestDestination(t, DestinationAdsCustomerMatch, nil, d)

	out := w.WriteBatch(context.Background(), []core.Record{
		{"customer_id": "12345", "third_party_user_id": "a"},
		{"customer_id": "12346", "third_party_user_id": "b"},
		{"third_party_user_id": "c"},
		{"customer_id": "12345"},
	})
	for i := 0; i < 3; i++ {
		assert.True(t, out[i].Succeeded())
	}
	assert.Equal(t, core.ErrMissingField, out[3].ErrorNum)

	require.Len(t, d.requests, 3)
	assert.Equal(t, "12345", d.requests[0].Target["customer_id"])
	assert.Equal(t, "12346", d.requests[1].Target["customer_id"])
	assert.Equal(t, "1234567890", d.requests[2].Target["customer_id"])
	assert.Equal(t, "list", d.requests[0].Target["user_list_name"])
	assert.Equal(t, []interface{}{map[string]interface{}{"thirdPartyUserId": "a"}}, d.requests[0].Records)
}

func TestCustomerMatchGroupFailure(t *testing.T) {
	d := &recordingDispatcher{respond: func(req DispatchRequest) (DispatchResult, error) {
		if req.Target["customer_id"] == "1" {
			return DispatchResult{}, &DispatchError{Op: "status_check", StatusCode: 400, Err: errors.New("bad")}
		}
		return DispatchResult{}, nil
	}}
	w := newTestDestination(t, DestinationAdsCustomerMatch, nil, d)

	out := w.WriteBatch(context.Background(), []core.Record{
		{"customer_id": "1", "third_party_user_id": "a"},
		{"customer_id": "2", "third_party_user_id": "b"},
		{"customer_id": "1", "third_party_user_id": "c"},
	})
	assert.Equal(t, core.ErrRetriableEventNotSent, out[0].ErrorNum)
	assert.True(t, out[1].Succeeded())
	assert.Equal(t, core.ErrRetriableEventNotSent, out[2].ErrorNum)
}

func TestCustomerMatchContactInfoHashing(t *testing.T) {
	d := &recordingDispatcher{}
	w := newTestDestination(t, DestinationAdsCustomerMatch, Params{"ads_upload_key_type": "CONTACT_INFO"}, d)

	out := w.WriteBatch(context.Background(), []core.Record{
		{"email": "  User@Example.com "},
		{"first_name": "Ann", "last_name": "Lee", "country_code": "jp", "postal_code": "100-0001"},
		{"hashedPhoneNumber": "abc"},
		{"first_name": "Ann"},
	})
	for i := 0; i < 3; i++ {
		assert.True(t, out[i].Succeeded(), "record %d", i)
	}
	assert.Equal(t, core.ErrMissingField, out[3].ErrorNum)

	require.Len(t, d.requests, 1)
	recs := d.requests[0].Records
	assert.Equal(t, hashSHA256("user@example.com"), recs[0].(map[string]interface{})["hashedEmail"])
	addr := recs[1].(map[string]interface{})["addressInfo"].(map[string]interface{})
	assert.Equal(t, hashSHA256("ann"), addr["hashedFirstName"])
	assert.Equal(t, "JP", addr["countryCode"])
	assert.Equal(t, "abc", recs[2].(map[string]interface{})["hashedPhoneNumber"])
}

func TestOfflineConversions(t *testing.T) {
	d := &recordingDispatcher{respond: func(req DispatchRequest) (DispatchResult, error) {
		return DispatchResult{Rejected: []Rejection{{Index: 0, Reason: "unparseable gclid"}}}, nil
	}}
	w := newTestDestination(t, DestinationAdsOfflineConversions, nil, d)

	valid := core.Record{
		"customer_id":          int64(12345),
		"gclid":                "123abc",
		"conversion_action":    "23456",
		"conversion_date_time": "2022-02-10 12:32:40+09:00",
		"conversion_value":     0.4732,
	}
	fromCSV := valid.WithKey("x").Payload()
	fromCSV["conversion_value"] = "1.5"
	missing := valid.Payload()
	delete(missing, "gclid")
	bad := valid.Payload()
	bad["conversion_value"] = "lots"

	out := w.WriteBatch(context.Background(), []core.Record{valid, fromCSV, missing, bad})
	assert.Equal(t, core.Failure(core.ErrEventNotSent, "unparseable gclid"), out[0])
	assert.True(t, out[1].Succeeded())
	assert.Equal(t, core.ErrMissingField, out[2].ErrorNum)
	assert.Equal(t, core.ErrInvalidFieldValue, out[3].ErrorNum)

	require.Len(t, d.requests, 1)
	assert.Equal(t, "12345", d.requests[0].Target["customer_id"])
	assert.Equal(t, 1.5, d.requests[0].Records[1].(map[string]interface{})["conversionValue"])
}

func TestAppCampaignValidation(t *testing.T) {
	sample := func() core.Record {
		return core.Record{
			"link_id":        "TESTLINKIDTESTLINKID",
			"app_event_type": "in_app_purchase",
			"rdid":           "843c45cc-e237-4f50-b6aa-843c45cc63d6",
			"id_type":        "advertisingid",
			"lat":            int64(0),
			"app_version":    "1.2.4",
			"os_version":     "5.0.0",
			"sdk_version":    "1.9.5r6",
			"timestamp":      "1577836800",
		}
	}

	tests := []struct {
		name   string
		mutate func(core.Record)
		want   core.ErrorNum
	}{
		{"valid", func(core.Record) {}, core.ErrNone},
		{"upper case rdid", func(r core.Record) { r["rdid"] = "843C45cc-e237-4f50-B6aa-843C45cc63d6" }, core.ErrNone},
		{"custom event", func(r core.Record) {
			r["app_event_type"] = "custom"
			r["app_event_name"] = "level_achieved"
			r["app_event_data"] = map[string]interface{}{"level": int64(5)}
		}, core.ErrNone},
		{"missing sdk version", func(r core.Record) { delete(r, "sdk_version") }, core.ErrMissingField},
		{"wrong event type", func(r core.Record) { r["app_event_type"] = "wrong_type" }, core.ErrInvalidFieldValue},
		{"rdid v5", func(r core.Record) { r["rdid"] = "843c45cc-e237-5f50-b6aa-843c45cc63d6" }, core.ErrInvalidFieldValue},
		{"rdid short", func(r core.Record) { r["rdid"] = "843c45cc-e237-4f50-b6aa-843c4c63d6" }, core.ErrInvalidFieldValue},
		{"wrong id type", func(r core.Record) { r["id_type"] = "wrong_id_type" }, core.ErrInvalidFieldValue},
		{"lat 2", func(r core.Record) { r["lat"] = 2 }, core.ErrInvalidFieldValue},
		{"event name without custom", func(r core.Record) { r["app_event_name"] = "level_achieved" }, core.ErrInvalidFieldValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestDestination(t, DestinationAdsAppCampaign, nil, &recordingDispatcher{})
			rec := sample()
			tt.mutate(rec)
			out := w.Write(context.Background(), rec)
			if tt.want == core.ErrNone {
				assert.True(t, out.Succeeded(), out.Reason)
				return
			}
			assert.Equal(t, tt.want, out.ErrorNum, out.Reason)
		})
	}
}

func TestAppCampaignDefaultLinkID(t *testing.T) {
	d := &recordingDispatcher{}
	w := newTestDestination(t, DestinationAdsAppCampaign, Params{"uac_link_id": "DEFAULT"}, d)
	rec := core.Record{
		"app_event_type": "first_open", "rdid": "843c45cc-e237-4f50-b6aa-843c45cc63d6",
		"id_type": "idfa", "lat": "1", "app_version": "1", "os_version": "1",
		"sdk_version": "1", "timestamp": "1",
	}
	out := w.Write(context.Background(), rec)
	require.True(t, out.Succeeded(), out.Reason)
	assert.Equal(t, "DEFAULT", d.requests[0].Records[0].(map[string]interface{})["link_id"])
	_, mutated := rec["link_id"]
	assert.False(t, mutated)
}

func TestCampaignManagerValidation(t *testing.T) {
	d := &recordingDispatcher{}
	w := newTestDestination(t, DestinationCampaignManager, nil, d)

	cv := func(typ, value string) []interface{} {
		return []interface{}{map[string]interface{}{"type": typ, "value": value}}
	}
	out := w.WriteBatch(context.Background(), []core.Record{
		{"gclid": "g", "ordinal": "1", "customVariables": cv("U11", "custom_value")},
		{"gclid": "g"},
		{"ordinal": "1"},
		{"gclid": "g", "ordinal": "1", "customVariables": cv("Uxx", "v")},
		{"gclid": "g", "ordinal": "1", "customVariables": cv("U101", "v")},
		{"gclid": "g", "ordinal": "1", "customVariables": cv("U1", strings.Repeat("1", 51))},
		{"matchId": "m", "ordinal": "2"},
	})
	assert.True(t, out[0].Succeeded(), out[0].Reason)
	assert.Equal(t, core.ErrMissingField, out[1].ErrorNum)
	assert.Equal(t, core.ErrMissingField, out[2].ErrorNum)
	assert.Equal(t, core.ErrInvalidFieldValue, out[3].ErrorNum)
	assert.Equal(t, core.ErrInvalidFieldValue, out[4].ErrorNum)
	assert.Equal(t, core.ErrInvalidFieldValue, out[5].ErrorNum)
	assert.True(t, out[6].Succeeded())

	require.Len(t, d.requests, 1)
	conv := d.requests[0].Records[0].(map[string]interface{})
	assert.Equal(t, "a", conv["floodlightActivityId"])
	assert.Equal(t, "c", conv["floodlightConfigurationId"])
	assert.Equal(t, "123", d.requests[0].Target["profile_id"])
}

func TestDestinationDispatchFailureFailsBatch(t *testing.T) {
	d := &recordingDispatcher{respond: func(DispatchRequest) (DispatchResult, error) {
		return DispatchResult{}, &DispatchError{Op: "status_check", StatusCode: 401, Err: errors.New("denied")}
	}}
	w := newTestDestination(t, DestinationCampaignManager, nil, d)
	out := w.WriteBatch(context.Background(), []core.Record{{"gclid": "g", "ordinal": "1"}, {"gclid": "h", "ordinal": "2"}})
	for _, o := range out {
		assert.Equal(t, core.ErrDestinationUnauthorized, o.ErrorNum)
	}
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]int{{0, 1}, {2}}, chunk(3, 2))
	assert.Equal(t, [][]int{{0, 1, 2}}, chunk(3, 0))
	assert.Nil(t, chunk(0, 5))
}
