package stream

import "testing"

func allTopics() []Topic {
	topics := []Topic{
		AccountDealsTopic(),
		AccountOrdersTopic(),
		AccountBalanceTopic(),
	}
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		topics = append(topics, DealsTopic(sym), OrderBookDiffTopic(sym))
		for iv := range klineIntervalNames {
			topics = append(topics, KlineTopic(sym, iv))
		}
		for _, d := range []DepthLevel{Depth5, Depth10, Depth20} {
			topics = append(topics, OrderBookTopic(sym, d))
		}
	}
	return topics
}

func TestSubscriptionStrings(t *testing.T) {
	cases := []struct {
		topic Topic
		want  string
	}{
		{AccountDealsTopic(), "spot@private.deals.v3.api"},
		{AccountOrdersTopic(), "spot@private.orders.v3.api"},
		{AccountBalanceTopic(), "spot@private.account.v3.api"},
		{DealsTopic("BTCUSDT"), "spot@public.deals.v3.api@BTCUSDT"},
		{KlineTopic("BTCUSDT", Min15), "spot@public.kline.v3.api@BTCUSDT@Min15"},
		{KlineTopic("ETHUSDT", Month1), "spot@public.kline.v3.api@ETHUSDT@Month1"},
		{OrderBookTopic("BTCUSDT", Depth5), "spot@public.limit.depth.v3.api@BTCUSDT@5"},
		{OrderBookTopic("BTCUSDT", Depth20), "spot@public.limit.depth.v3.api@BTCUSDT@20"},
		{OrderBookDiffTopic("BTCUSDT"), "spot@public.increase.depth.v3.api@BTCUSDT"},
	}
	for _, c := range cases {
		if got := c.topic.SubscriptionString(); got != c.want {
			t.Errorf("%v: got %q want %q", c.topic.Kind(), got, c.want)
		}
		if c.topic.String() != c.want {
			t.Errorf("String() should equal subscription string, got %q", c.topic.String())
		}
	}
}

func TestSubscriptionStringsInjective(t *testing.T) {
	seen := make(map[string]Topic)
	for _, topic := range allTopics() {
		s := topic.SubscriptionString()
		if prev, ok := seen[s]; ok && prev != topic {
			t.Fatalf("%q produced by both %+v and %+v", s, prev, topic)
		}
		seen[s] = topic
	}
}

func TestRequiresAuth(t *testing.T) {
	for _, topic := range allTopics() {
		private := topic.Kind() == TopicAccountDeals || topic.Kind() == TopicAccountOrders || topic.Kind() == TopicAccountBalance
		if topic.RequiresAuth() != private {
			t.Errorf("%s: RequiresAuth=%v", topic, topic.RequiresAuth())
		}
	}
}

func TestTopicFamilyMatchesChannel(t *testing.T) {
	for _, topic := range allTopics() {
		if got := FamilyForChannel(topic.SubscriptionString()); got != topic.Family() {
			t.Errorf("%s: channel family %s, topic family %s", topic, got, topic.Family())
		}
	}
}

func TestTopicComparable(t *testing.T) {
	m := map[Topic]int{KlineTopic("BTCUSDT", Min1): 1}
	if m[KlineTopic("BTCUSDT", Min1)] != 1 {
		t.Fatal("equal topics should hit the same map key")
	}
	if _, ok := m[KlineTopic("BTCUSDT", Min5)]; ok {
		t.Fatal("different interval must be a different key")
	}
}

func TestTopicValidate(t *testing.T) {
	if err := (Topic{}).Validate(); err == nil {
		t.Fatal("zero topic should be invalid")
	}
	if err := OrderBookTopic("BTCUSDT", DepthLevel(7)).Validate(); err == nil {
		t.Fatal("depth 7 should be invalid")
	}
	if err := KlineTopic("BTCUSDT", KlineInterval(99)).Validate(); err == nil {
		t.Fatal("unknown interval should be invalid")
	}
	if err := DealsTopic("").Validate(); err == nil {
		t.Fatal("empty symbol should be invalid")
	}
	for _, topic := range allTopics() {
		if err := topic.Validate(); err != nil {
			t.Errorf("%s: %v", topic, err)
		}
	}
}

func TestParseKlineInterval(t *testing.T) {
	for iv, name := range klineIntervalNames {
		got, err := ParseKlineInterval(name)
		if err != nil || got != iv {
			t.Fatalf("ParseKlineInterval(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseKlineInterval("Min2"); err == nil {
		t.Fatal("expected error for Min2")
	}
}

func TestParseDepthLevel(t *testing.T) {
	if d, err := ParseDepthLevel(10); err != nil || d != Depth10 {
		t.Fatalf("ParseDepthLevel(10) = %v, %v", d, err)
	}
	if _, err := ParseDepthLevel(15); err == nil {
		t.Fatal("expected error for 15")
	}
}
