package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// assignID fills a zero primary key on insert so rows do not depend on a database-side
// uuid generator.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (p *Product) BeforeCreate(*gorm.DB) error       { assignID(&p.ID); return nil }
func (o *Order) BeforeCreate(*gorm.DB) error         { assignID(&o.ID); return nil }
func (i *OrderItem) BeforeCreate(*gorm.DB) error     { assignID(&i.ID); return nil }
func (r *OrderReminder) BeforeCreate(*gorm.DB) error { assignID(&r.ID); return nil }
func (c *Coupon) BeforeCreate(*gorm.DB) error        { assignID(&c.ID); return nil }
func (t *Transaction) BeforeCreate(*gorm.DB) error   { assignID(&t.ID); return nil }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error   { assignID(&e.ID); return nil }
