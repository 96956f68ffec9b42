package gateway

import (
	"errors"
	"math"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const (
	testAPIKey = "mx0aBYs33eIilxBWC5"
	testSecret = "45d0b3c26f2644f19bfb98b07741b2f5"
)

var testTime = time.UnixMilli(1700000000000)

var hexSig = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestSignKnownVectors(t *testing.T) {
	cases := []struct {
		name   string
		kind   ParamsKind
		params any
		want   string
	}{
		{
			name:   "query struct",
			kind:   ParamsQuery,
			params: OpenOrdersParams{Symbol: "BTC_USDT", PageNum: 1, PageSize: 20},
			want:   "7d10d76e019924414eb1220207aad227ee9ae52ebf0a1d93ffd251372f67bbe7",
		},
		{
			name:   "empty query",
			kind:   ParamsQuery,
			params: nil,
			want:   "9479645a6a8d9ba1ca8a65d97483ddd59c7e24cae391159b7c5ab39745b5cd18",
		},
		{
			name: "json body",
			kind: ParamsBody,
			params: SubmitOrderParams{
				Symbol:      "BTC_USDT",
				Price:       decimal.RequireFromString("100.5"),
				Vol:         decimal.NewFromInt(1),
				Side:        1,
				Type:        1,
				OpenType:    1,
				ExternalOid: "abc",
			},
			want: "636519c0d254260618d890f697ca0d85900610d2e7bc04a57c5bfbd66819193b",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Sign(SignRequest{Time: testTime, APIKey: testAPIKey, SecretKey: testSecret, Kind: c.kind, Params: c.params})
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if got != c.want {
				t.Fatalf("signature = %s, want %s", got, c.want)
			}
		})
	}
}

func TestSignDeterministicAndSensitive(t *testing.T) {
	base := SignRequest{
		Time:      testTime,
		APIKey:    testAPIKey,
		SecretKey: testSecret,
		Kind:      ParamsQuery,
		Params:    QueryParams{}.Add("symbol", "BTC_USDT"),
	}
	first, err := Sign(base)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := Sign(base)
	if first != second {
		t.Fatal("signature must be deterministic")
	}
	if !hexSig.MatchString(first) {
		t.Fatalf("signature %q is not 64 lower-case hex chars", first)
	}

	variants := map[string]SignRequest{}
	v := base
	v.Time = testTime.Add(time.Millisecond)
	variants["time"] = v
	v = base
	v.APIKey = testAPIKey + "x"
	variants["api key"] = v
	v = base
	v.SecretKey = testSecret + "x"
	variants["secret"] = v
	v = base
	v.Params = QueryParams{}.Add("symbol", "ETH_USDT")
	variants["params"] = v

	for name, req := range variants {
		got, err := Sign(req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got == first {
			t.Errorf("changing %s did not change the signature", name)
		}
	}
}

func TestSignEmptySecret(t *testing.T) {
	_, err := Sign(SignRequest{Time: testTime, APIKey: testAPIKey, Kind: ParamsQuery})
	var se *SigningError
	if !errors.As(err, &se) {
		t.Fatalf("expected SigningError, got %v", err)
	}
	if _, err := SignSpotQuery("timestamp=1", ""); !errors.As(err, &se) {
		t.Fatalf("expected SigningError from spot signer, got %v", err)
	}
}

func TestCanonicalizeQueryOrder(t *testing.T) {
	type params struct {
		Symbol   string           `url:"symbol"`
		Side     int              `url:"side"`
		Price    decimal.Decimal  `url:"price"`
		Note     string           `url:"note,omitempty"`
		Stop     *decimal.Decimal `url:"stop_price"`
		internal string
	}
	got, err := Canonicalize(ParamsQuery, params{Symbol: "BTC_USDT", Side: 2, Price: decimal.RequireFromString("0.10")})
	if err != nil {
		t.Fatal(err)
	}
	if want := "symbol=BTC_USDT&side=2&price=0.1"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	ordered := QueryParams{}.Add("z", "1").Add("a", "x y")
	if got, _ := Canonicalize(ParamsQuery, ordered); got != "z=1&a=x+y" {
		t.Fatalf("QueryParams must keep order, got %q", got)
	}

	values := url.Values{"b": {"2"}, "a": {"1"}}
	if got, _ := Canonicalize(ParamsQuery, values); got != "a=1&b=2" {
		t.Fatalf("url.Values must be key sorted, got %q", got)
	}
}

func TestCanonicalizeErrors(t *testing.T) {
	_, err := Canonicalize(ParamsQuery, map[string]string{"a": "b"})
	var ce *CanonicalizationError
	if !errors.As(err, &ce) || ce.Kind != ParamsQuery {
		t.Fatalf("map query params should fail, got %v", err)
	}

	type nested struct {
		Inner struct{ A int }
	}
	if _, err := Canonicalize(ParamsQuery, nested{}); !errors.As(err, &ce) {
		t.Fatalf("nested struct should fail, got %v", err)
	}

	_, err = Canonicalize(ParamsBody, map[string]float64{"x": math.NaN()})
	if !errors.As(err, &ce) || ce.Kind != ParamsBody {
		t.Fatalf("NaN body should fail, got %v", err)
	}

	// 签名前的规范化错误直接返回，不产生签名
	if _, err := Sign(SignRequest{Time: testTime, APIKey: testAPIKey, SecretKey: testSecret, Kind: ParamsBody, Params: make(chan int)}); !errors.As(err, &ce) {
		t.Fatalf("channel body should fail, got %v", err)
	}
}

func TestCanonicalizeBodyCompact(t *testing.T) {
	got, err := Canonicalize(ParamsBody, map[string]string{"symbol": "A<B"})
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"symbol":"A<B"}` {
		t.Fatalf("body = %q", got)
	}
	if got, _ := Canonicalize(ParamsBody, []string{"1", "2"}); got != `["1","2"]` {
		t.Fatalf("array body = %q", got)
	}
}

func TestSignSpotQuery(t *testing.T) {
	got, err := SignSpotQuery("timestamp=1700000000000", testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if got != "2cf087e23e56def37ebe807c7792ef18c05ff13c813319b6f5805bde6d4ec1c7" {
		t.Fatalf("spot signature = %s", got)
	}
}
