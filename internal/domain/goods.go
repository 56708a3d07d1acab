package domain

// CurrencyGrouping maps currency item names to instance ids on one side of an exchange.
// Names keep the order in which they were first encountered. The zero value is ready to use.
type CurrencyGrouping struct {
	names []string
	ids   map[string][]string
}

// Add appends an instance id under the given currency name.
func (g *CurrencyGrouping) Add(name, instanceID string) {
	if g.ids == nil {
		g.ids = make(map[string][]string)
	}
	if _, ok := g.ids[name]; !ok {
		g.names = append(g.names, name)
	}
	g.ids[name] = append(g.ids[name], instanceID)
}

// Has reports whether at least one instance of name is present.
func (g *CurrencyGrouping) Has(name string) bool {
	return len(g.ids[name]) > 0
}

// Count returns the number of instances of name.
func (g *CurrencyGrouping) Count(name string) int {
	return len(g.ids[name])
}

// IDs returns the instance ids grouped under name.
func (g *CurrencyGrouping) IDs(name string) []string {
	return g.ids[name]
}

// Names returns currency names in insertion order.
func (g *CurrencyGrouping) Names() []string {
	return g.names
}

// MetalScrap totals every metal denomination in scrap.
func (g *CurrencyGrouping) MetalScrap() Scrap {
	return Scrap(g.Count(RefinedName)*ScrapPerRefined +
		g.Count(ReclaimedName)*ScrapPerReclaimed +
		g.Count(ScrapName))
}

// Value totals keys and metal in scrap with keyRate as the value of one key.
func (g *CurrencyGrouping) Value(keyRate Scrap) Scrap {
	return Scrap(g.Count(KeyName))*keyRate + g.MetalScrap()
}

// Good is a non-currency item instance.
type Good struct {
	InstanceID string `json:"instance_id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
}

// PricedGood is a good with its price list entry attached. Priced is false
// when no price could be resolved for the SKU.
type PricedGood struct {
	Good
	Buy    Currencies `json:"buy"`
	Sell   Currencies `json:"sell"`
	Priced bool       `json:"priced"`
}

// Side is one half of an exchange after classification.
type Side struct {
	Currencies CurrencyGrouping
	Goods      []PricedGood
}

// HasKeys reports whether the side holds the exchange-currency item.
func (s *Side) HasKeys() bool {
	return s.Currencies.Has(KeyName)
}

// HasGoods reports whether the side holds any non-currency item.
func (s *Side) HasGoods() bool {
	return len(s.Goods) > 0
}

// AllPriced reports whether every good on the side has a price.
func (s *Side) AllPriced() bool {
	for _, g := range s.Goods {
		if !g.Priced {
			return false
		}
	}
	return true
}

// InstanceIDs lists every instance on the side, currencies first.
func (s *Side) InstanceIDs() []string {
	var ids []string
	for _, name := range s.Currencies.Names() {
		ids = append(ids, s.Currencies.IDs(name)...)
	}
	for _, g := range s.Goods {
		ids = append(ids, g.InstanceID)
	}
	return ids
}

// ItemPrice is a price list entry.
type ItemPrice struct {
	SKU  string     `json:"sku"`
	Name string     `json:"name"`
	Buy  Currencies `json:"buy"`
	Sell Currencies `json:"sell"`
	Time int64      `json:"time"`
}

// Holdings summarises currency held by the agent.
type Holdings struct {
	Keys  int
	Metal Scrap
}
