package model

// SystemKeyName is the system_config row holding the shared admin secret.
const SystemKeyName = "system_key"
