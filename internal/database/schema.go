package database

var schema = []string{`
CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    chat_id BIGINT NOT NULL UNIQUE,
    username VARCHAR(255),
    first_name VARCHAR(255),
    last_name VARCHAR(255),
    credits INT NOT NULL DEFAULT 0,
    paid TINYINT(1) NOT NULL DEFAULT 0,
    referred_by BIGINT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_users_referred_by (referred_by)
)`, `
CREATE TABLE IF NOT EXISTS generations (
    id CHAR(36) PRIMARY KEY,
    chat_id BIGINT NOT NULL,
    photo_file_id VARCHAR(255) NOT NULL,
    is_paid_user TINYINT(1) NOT NULL DEFAULT 0,
    service VARCHAR(16),
    generation_mode VARCHAR(16),
    model_gender VARCHAR(8),
    template_id VARCHAR(64),
    product_name TEXT,
    description TEXT,
    input_url TEXT,
    prompt TEXT,
    model_name VARCHAR(128),
    job_id VARCHAR(128) NULL,
    status VARCHAR(32) NOT NULL,
    result_url TEXT,
    error TEXT,
    cost INT NULL,
    refunded TINYINT(1) NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    completed_at TIMESTAMP NULL,
    UNIQUE KEY uniq_generations_job (job_id),
    KEY idx_generations_chat_status (chat_id, status),
    KEY idx_generations_status_created (status, created_at)
)`, `
CREATE TABLE IF NOT EXISTS payments (
    id CHAR(36) PRIMARY KEY,
    chat_id BIGINT NOT NULL,
    amount INT NOT NULL,
    package_coins INT NOT NULL,
    status VARCHAR(16) NOT NULL,
    authority VARCHAR(64) NOT NULL,
    payment_link TEXT NOT NULL,
    transaction_id VARCHAR(64),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    completed_at TIMESTAMP NULL,
    UNIQUE KEY uniq_payments_authority (authority),
    KEY idx_payments_chat (chat_id)
)`,
}
