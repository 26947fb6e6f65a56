// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/userknn/dataset"
	"github.com/gorse-io/userknn/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

const bufSize = 1

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

// SQLInteraction is the row of the interactions table. Repeated (user, item) pairs are kept
// as separate rows.
type SQLInteraction struct {
	Id        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserId    int64     `gorm:"column:user_id;not null;index"`
	ItemId    int64     `gorm:"column:item_id;not null;index"`
	Weight    float32   `gorm:"column:weight;not null"`
	Timestamp time.Time `gorm:"column:time_stamp;not null"`
}

// SQLDatabase stores interactions in MySQL, Postgres or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB  *gorm.DB
	client  *sql.DB
	driver  SQLDriver
	options storage.Options
}

// Options returns the options the connection pool was opened with.
func (d *SQLDatabase) Options() storage.Options {
	return d.options
}

// Init creates tables if not exist.
func (d *SQLDatabase) Init() error {
	db := d.gormDB
	if d.driver == MySQL {
		db = db.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	if err := db.AutoMigrate(SQLInteraction{}); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Purge deletes all interactions.
func (d *SQLDatabase) Purge() error {
	if d.gormDB.Migrator().HasTable(d.InteractionsTable()) {
		if err := d.gormDB.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&SQLInteraction{}).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

// BatchInsertInteractions inserts interactions in batches.
func (d *SQLDatabase) BatchInsertInteractions(ctx context.Context, interactions []dataset.Interaction) error {
	if len(interactions) == 0 {
		return nil
	}
	rows := lo.Map(interactions, func(interaction dataset.Interaction, _ int) SQLInteraction {
		return SQLInteraction{
			UserId:    interaction.UserId,
			ItemId:    interaction.ItemId,
			Weight:    interaction.Weight,
			Timestamp: interaction.Timestamp.UTC(),
		}
	})
	if err := d.gormDB.WithContext(ctx).Create(&rows).Error; err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *SQLDatabase) CountInteractions(ctx context.Context) (int, error) {
	var count int64
	if err := d.gormDB.WithContext(ctx).Model(&SQLInteraction{}).Count(&count).Error; err != nil {
		return 0, errors.Trace(err)
	}
	return int(count), nil
}

// GetInteractions returns all interactions in insertion order.
func (d *SQLDatabase) GetInteractions(ctx context.Context) ([]dataset.Interaction, error) {
	interactionChan, errChan := d.GetInteractionStream(ctx, 1000)
	var interactions []dataset.Interaction
	for batch := range interactionChan {
		interactions = append(interactions, batch...)
	}
	if err := <-errChan; err != nil {
		return nil, errors.Trace(err)
	}
	return interactions, nil
}

// GetInteractionStream reads interactions in batches.
func (d *SQLDatabase) GetInteractionStream(ctx context.Context, batchSize int) (chan []dataset.Interaction, chan error) {
	interactionChan := make(chan []dataset.Interaction, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(interactionChan)
		defer close(errChan)
		// send query
		result, err := d.gormDB.WithContext(ctx).Model(&SQLInteraction{}).
			Select("user_id, item_id, weight, time_stamp").
			Order("id").
			Rows()
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		// fetch result
		interactions := make([]dataset.Interaction, 0, batchSize)
		defer result.Close()
		for result.Next() {
			var interaction dataset.Interaction
			if err = result.Scan(&interaction.UserId, &interaction.ItemId, &interaction.Weight, &interaction.Timestamp); err != nil {
				errChan <- errors.Trace(err)
				return
			}
			interactions = append(interactions, interaction)
			if len(interactions) == batchSize {
				interactionChan <- interactions
				interactions = make([]dataset.Interaction, 0, batchSize)
			}
		}
		if err = result.Err(); err != nil {
			errChan <- errors.Trace(err)
			return
		}
		if len(interactions) > 0 {
			interactionChan <- interactions
		}
		errChan <- nil
	}()
	return interactionChan, errChan
}
