package database

import (
	"context"
	"time"

	"gorm.io/gorm"

	"immobilier/server/internal/models"
)

func (d *Database) CreateUser(ctx context.Context, u *models.User) error {
	return MapError("create user", d.db.WithContext(ctx).Create(u).Error)
}

// GetUserByUsername returns nil when no such user exists.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return firstUser(d.db.WithContext(ctx).Where("username = ?", username))
}

// GetUserByID returns nil when no such user exists.
func (d *Database) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return firstUser(d.db.WithContext(ctx).Where("id = ?", id))
}

func firstUser(q *gorm.DB) (*models.User, error) {
	var users []models.User
	if err := q.Limit(1).Find(&users).Error; err != nil {
		return nil, MapError("get user", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// ListUsers returns accounts ordered by id.
func (d *Database) ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, error) {
	q := d.db.WithContext(ctx).Model(&models.User{})
	if !f.IncludeInactive {
		q = q.Where("is_active = ?", true)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	users := []models.User{}
	if err := q.Order("id").Offset(f.Offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, MapError("list users", err)
	}
	return users, nil
}

// UpdateUser applies changes and returns the updated account, nil when no
// such user exists.
func (d *Database) UpdateUser(ctx context.Context, id int64, changes models.UserChanges) (*models.User, error) {
	var updated *models.User
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields := map[string]interface{}{}
		if changes.Email != nil {
			if *changes.Email == "" {
				fields["email"] = nil
			} else {
				fields["email"] = *changes.Email
			}
		}
		if changes.IsActive != nil {
			fields["is_active"] = *changes.IsActive
		}
		if changes.IsAdmin != nil {
			fields["is_admin"] = *changes.IsAdmin
		}

		if len(fields) > 0 {
			res := tx.Model(&models.User{}).Where("id = ?", id).Updates(fields)
			if res.Error != nil {
				return res.Error
			}
		}

		u, err := firstUser(tx.Where("id = ?", id))
		if err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, MapError("update user", err)
	}
	return updated, nil
}

// SetPassword stores a new hash. It reports false when no such user exists.
func (d *Database) SetPassword(ctx context.Context, id int64, hashed string) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("hashed_password", hashed)
	if res.Error != nil {
		return false, MapError("set password", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteUser reports false when no such user exists.
func (d *Database) DeleteUser(ctx context.Context, id int64) (bool, error) {
	res := d.db.WithContext(ctx).Where("id = ?", id).Delete(&models.User{})
	if res.Error != nil {
		return false, MapError("delete user", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// EnsureAdmin creates username as an active admin with the given hash, or
// promotes and reactivates it when it already exists. The stored password of
// an existing account is kept. It reports whether the account was created.
func (d *Database) EnsureAdmin(ctx context.Context, username, hashed string) (bool, error) {
	created := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := firstUser(tx.Where("username = ?", username))
		if err != nil {
			return err
		}
		if existing != nil {
			return tx.Model(&models.User{}).
				Where("id = ?", existing.ID).
				Updates(map[string]interface{}{"is_admin": true, "is_active": true}).Error
		}

		created = true
		return tx.Create(&models.User{
			Username:       username,
			HashedPassword: hashed,
			IsActive:       true,
			IsAdmin:        true,
		}).Error
	})
	if err != nil {
		return false, MapError("ensure admin", err)
	}
	return created, nil
}

func (d *Database) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	err := d.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("last_login", at).Error
	return MapError("update last login", err)
}
