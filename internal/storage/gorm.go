package storage

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type gormStore struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the orders schema.
func Open(dsn string) (Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&Order{}, &OrderLeg{}); err != nil {
		return nil, fmt.Errorf("migrate orders schema: %w", err)
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) CreateOrderWithLegs(ctx context.Context, order *Order, legs []OrderLeg) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		for i := range legs {
			legs[i].OrderID = order.ID
		}
		if len(legs) > 0 {
			if err := tx.Create(&legs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *gormStore) GetOrder(ctx context.Context, id string) (*Order, []OrderLeg, error) {
	var order Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, nil, err
	}
	var legs []OrderLeg
	if err := s.db.WithContext(ctx).Where("order_id = ?", id).Order("id").Find(&legs).Error; err != nil {
		return nil, nil, err
	}
	return &order, legs, nil
}

func (s *gormStore) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	var orders []Order
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&orders).Error
	return orders, err
}
