/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	// User queries
	queryGetUsers = `
		SELECT id, wallet_address, created_at
		FROM users
		ORDER BY created_at`

	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, wallet_address, created_at) VALUES (?, ?, ?)`

	queryGetUserById = `
		SELECT id, wallet_address, created_at
		FROM users
		WHERE id = ?`

	queryGetUserByWallet = `
		SELECT id, wallet_address, created_at
		FROM users
		WHERE wallet_address = ?`

	// Balance queries
	queryGetBalance = `
		SELECT amount
		FROM balances
		WHERE user_id = ?`

	queryGetBalanceRow = `
		SELECT user_id, amount, initial_amount, version, COALESCE(last_transaction_id, ''), updated_at
		FROM balances
		WHERE user_id = ?`

	queryGetAllBalances = `
		SELECT user_id, amount, initial_amount, version, COALESCE(last_transaction_id, ''), updated_at
		FROM balances
		ORDER BY user_id`

	queryInsertBalance = `
		INSERT OR IGNORE INTO balances (user_id, amount, initial_amount, version, updated_at)
		VALUES (?, ?, ?, 1, ?)`

	queryUpdateBalance = `
		UPDATE balances
		SET amount = ?, last_transaction_id = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`

	// Transaction queries
	queryInsertTransaction = `
		INSERT INTO transactions (id, user_id, amount, type, status, created_at)
		VALUES (?, ?, ?, ?, 'PENDING', ?)`

	queryFinishTransaction = `
		UPDATE transactions
		SET status = ?, finished_at = ?
		WHERE id = ? AND status = 'PENDING'`

	queryGetTransaction = `
		SELECT id, user_id, amount, type, status, created_at, finished_at
		FROM transactions
		WHERE id = ?`

	queryGetTransactions = `
		SELECT id, user_id, amount, type, status, created_at, finished_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	queryGetCompletedAmounts = `
		SELECT type, amount
		FROM transactions
		WHERE user_id = ? AND status = 'COMPLETED'`

	// Usage queries
	queryInsertUsage = `
		INSERT INTO usage (id, user_id, model_id, transaction_id, credits_spent, request_signature, run_id, estimated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryUsageColumns = `
		SELECT id, user_id, model_id, transaction_id, credits_spent, request_signature, run_id, estimated,
		       COALESCE(settlement_transaction_id, ''), created_at, settled_at
		FROM usage`

	queryGetUsageById    = queryUsageColumns + ` WHERE id = ?`
	queryGetUsageByRunId = queryUsageColumns + ` WHERE run_id = ? AND run_id != '' ORDER BY created_at LIMIT 1`
	queryGetUserUsage    = queryUsageColumns + ` WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`

	querySettleUsage = `
		UPDATE usage
		SET settled_at = ?, settlement_transaction_id = ?
		WHERE id = ? AND settled_at IS NULL`

	// Popup queries
	queryInsertPopup = `
		INSERT INTO balance_popups (
			id, user_id, price_usd, amount_expected, address_to_pay, currency_to_pay,
			time_to_pay_minutes, pay_until, status, amount_paid, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', '0', ?)`

	queryPopupColumns = `
		SELECT p.id, p.user_id, p.price_usd, p.amount_expected, p.address_to_pay, p.currency_to_pay,
		       p.time_to_pay_minutes, p.pay_until, p.status, COALESCE(p.event_id, ''), p.amount_paid,
		       p.created_at, p.finished_at
		FROM balance_popups p`

	queryGetPopup = queryPopupColumns + ` WHERE p.id = ?`

	queryGetUnfinishedPopups = queryPopupColumns + `
		WHERE p.finished_at IS NULL
		ORDER BY p.created_at`

	queryGetPayablePopupsForWallet = queryPopupColumns + `
		JOIN users u ON u.id = p.user_id
		WHERE p.status != 'PAID' AND u.wallet_address = ? AND p.currency_to_pay = ?
		ORDER BY p.created_at`

	queryPayPopup = `
		UPDATE balance_popups
		SET status = 'PAID', finished_at = ?, event_id = ?, amount_paid = ?
		WHERE id = ? AND status != 'PAID'`

	queryExpirePopup = `
		UPDATE balance_popups
		SET status = 'EXPIRED', finished_at = ?
		WHERE id = ? AND finished_at IS NULL`

	queryCheckEventConsumed = `
		SELECT id FROM balance_popups WHERE event_id = ? LIMIT 1`

	// Web3 event queries
	queryInsertEvent = `
		INSERT OR IGNORE INTO web3_events (
			event_id, block_number, transaction_hash, log_index, address, event_name, event_hash, data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetEventsAfter = `
		SELECT seq, event_id, block_number, transaction_hash, log_index, address, event_name, event_hash, data, created_at
		FROM web3_events
		WHERE event_name = ? AND seq > ?
		ORDER BY seq
		LIMIT ?`

	queryGetLastBlockNumber = `
		SELECT MAX(block_number) FROM web3_events`

	// Cursor queries
	queryGetCursor = `
		SELECT position FROM job_cursors WHERE name = ?`

	queryUpsertCursor = `
		INSERT INTO job_cursors (name, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at`

	// Catalog queries
	queryUpsertCategory = `
		INSERT INTO categories (slug, name, description, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET name = excluded.name, description = excluded.description, updated_at = excluded.updated_at`

	queryListCategories = `
		SELECT slug, name, description, updated_at
		FROM categories
		ORDER BY name`

	queryGetCategory = `
		SELECT slug, name, description, updated_at
		FROM categories
		WHERE slug = ?`

	queryUpsertModel = `
		INSERT INTO models (slug, category_slug, name, description, run_count, cover_image_url, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category_slug, slug) DO UPDATE SET
			name = excluded.name, description = excluded.description, run_count = excluded.run_count,
			cover_image_url = excluded.cover_image_url, version = excluded.version, updated_at = excluded.updated_at`

	queryListModels = `
		SELECT slug, category_slug, name, description, run_count, cover_image_url, version, updated_at
		FROM models
		WHERE category_slug = ?
		ORDER BY run_count DESC, name`

	queryGetModel = `
		SELECT slug, category_slug, name, description, run_count, cover_image_url, version, updated_at
		FROM models
		WHERE slug = ?
		ORDER BY updated_at DESC
		LIMIT 1`
)
