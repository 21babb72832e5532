package checkout

import "fmt"

// Product holds the inventory counters for one sellable item.
type Product struct {
	ID        string
	Name      string
	Available int64
	Reserved  int64
}

// Reserve moves quantity from available to reserved.
func (p *Product) Reserve(quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be > 0", ErrInvalidRequest)
	}
	if p.Available < quantity {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		return fmt.Errorf("%w for %s", ErrInsufficientStock, name)
	}
	p.Available -= quantity
	p.Reserved += quantity
	return nil
}

// Release returns a reservation to available stock. It reports the units that
// could not be taken out of reserved because the counter was already lower.
func (p *Product) Release(quantity int64) (shortfall int64) {
	var taken int64
	p.Reserved, taken = decrementFloor(p.Reserved, quantity)
	p.Available += quantity
	return quantity - taken
}

// Consume finalises a sale: the reserved units leave the store for good.
func (p *Product) Consume(quantity int64) (shortfall int64) {
	var taken int64
	p.Reserved, taken = decrementFloor(p.Reserved, quantity)
	return quantity - taken
}

// decrementFloor subtracts quantity from value without crossing zero and returns
// the new value together with how much was actually subtracted. This is the single
// place the reserved counter is lowered.
func decrementFloor(value, quantity int64) (next, taken int64) {
	if quantity <= 0 {
		return value, 0
	}
	if value <= 0 {
		return 0, 0
	}
	if quantity > value {
		return 0, value
	}
	return value - quantity, quantity
}
