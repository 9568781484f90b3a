package database

// Statements are applied one by one; the MySQL driver rejects multi-statement
// Exec unless multiStatements is set in the DSN.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
    id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(255) NOT NULL DEFAULT '',
    display_name VARCHAR(255),
    salon_name VARCHAR(255),
    plan VARCHAR(16) NOT NULL DEFAULT 'free',
    plan_expires_at TIMESTAMP NULL,
    daily_usage INT NOT NULL DEFAULT 0,
    last_usage_date DATE NULL,
    telegram_chat_id BIGINT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS customers (
    id CHAR(36) PRIMARY KEY,
    account_id VARCHAR(64) NOT NULL,
    name VARCHAR(255) NOT NULL,
    phone VARCHAR(64),
    email VARCHAR(255),
    notes TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_customers_account (account_id),
    FOREIGN KEY (account_id) REFERENCES profiles(id)
)`,
	`CREATE TABLE IF NOT EXISTS consultations (
    id CHAR(36) PRIMARY KEY,
    account_id VARCHAR(64) NOT NULL,
    customer_id CHAR(36) NOT NULL,
    kind VARCHAR(16) NOT NULL,
    treatment_type VARCHAR(16),
    image_urls JSON NOT NULL,
    result JSON NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_consultations_customer (account_id, customer_id, created_at),
    FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS timelines (
    id CHAR(36) PRIMARY KEY,
    account_id VARCHAR(64) NOT NULL,
    customer_id CHAR(36) NOT NULL,
    treatment_type VARCHAR(16) NOT NULL,
    source_image_url TEXT NOT NULL,
    result JSON NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_timelines_customer (account_id, customer_id, created_at),
    FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS pricing_plans (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    tier VARCHAR(16) NOT NULL,
    title VARCHAR(255) NOT NULL,
    description TEXT,
    currency VARCHAR(8) NOT NULL,
    price_minor_units INT NOT NULL,
    duration_days INT NOT NULL DEFAULT 30,
    stripe_price_id VARCHAR(128),
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    account_id VARCHAR(64) NOT NULL,
    plan_id BIGINT NULL,
    provider VARCHAR(64) NOT NULL,
    provider_payment_charge_id VARCHAR(128),
    currency VARCHAR(8) NOT NULL,
    amount INT NOT NULL,
    status VARCHAR(16) NOT NULL,
    raw_payload TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_payments_charge (provider, provider_payment_charge_id),
    FOREIGN KEY (account_id) REFERENCES profiles(id)
)`,
	`CREATE TABLE IF NOT EXISTS promo_codes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    tier VARCHAR(16) NOT NULL,
    duration_days INT NOT NULL,
    max_uses INT NOT NULL,
    uses INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS promo_redemptions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    account_id VARCHAR(64) NOT NULL,
    promo_code_id BIGINT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_account_promo (account_id, promo_code_id),
    FOREIGN KEY (account_id) REFERENCES profiles(id),
    FOREIGN KEY (promo_code_id) REFERENCES promo_codes(id)
)`,
}
