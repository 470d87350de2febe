package config

import (
	"fmt"
	"os"
)

// sampleConfig is the annotated starter configuration written by
// `config init`.
const sampleConfig = `# odoo-backup-tool configuration

source:
  database:
    host: localhost
    port: 5432
    user: odoo
    password: ""
    database: production
    ssl_mode: disable
  # Directory holding the filestore. The tool resolves the database's
  # own tree under it (e.g. /var/lib/odoo/filestore/production).
  filestore_path: /var/lib/odoo/filestore
  # Uncomment when the filestore lives on another host. Database access
  # always goes over TCP, never through SSH.
  # ssh:
  #   host: odoo.internal
  #   port: 22
  #   user: odoo
  #   key_file: ~/.ssh/id_ed25519

# Clone destination. Omit when you only back up and restore in place.
# target:
#   database:
#     host: staging.internal
#     port: 5432
#     user: odoo
#     database: staging
#   filestore_path: /var/lib/odoo/filestore

storage:
  provider: LOCAL
  local:
    base_path: ./backups
  # provider: S3
  # s3:
  #   bucket: my-odoo-backups
  #   region: eu-central-1
  #   access_key: ""
  #   secret_key: ""
  # provider: GCS
  # gcs:
  #   bucket: my-odoo-backups
  #   credentials_path: /etc/gcs-credentials.json
  # provider: AZURE
  # azure:
  #   account_name: myaccount
  #   account_key: ""
  #   container_name: odoo-backups

retention:
  max_count: 10
  max_age: 2160h # 90 days

logging:
  level: normal # quiet, normal, verbose, debug
  format: text  # text or json

compression: gzip # none, gzip, zstd, lz4

# Override the built-in neutralization policy with a YAML file.
# neutralize_policy: /etc/odoo-backup/neutralize.yaml
`

// WriteSample writes the annotated sample configuration, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("writing sample config %s: %w", path, err)
	}
	return nil
}
