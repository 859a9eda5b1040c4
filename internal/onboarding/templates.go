package onboarding

// SetupWizardWelcome is shown before the first question
const SetupWizardWelcome = `
╔════════════════════════════════════════════════════════════════╗
║                      medtrack setup                            ║
╚════════════════════════════════════════════════════════════════╝

This writes a config file and an .env file with the server secrets.
Press Enter at any question to keep the default shown in brackets.

`

// SetupCompleteMessage is shown once both files are written
const SetupCompleteMessage = `
✓ Setup complete

  Config:  {{.ConfigPath}}
  Secrets: {{.EnvPath}}

Next steps:
  medtrack info                      check the effective configuration
  medtrack add --patient ID ...      add a first medication
  medtrack serve                     start the HTTP API
`

const configHeader = `# medtrack configuration
# Generated on %s
# Secrets live in the .env file, not here.

`

const envTemplate = `# medtrack secrets
# Generated on %s

MEDTRACK_SECURITY_JWT_SECRET=%s
MEDTRACK_SECURITY_ADMIN_PASSWORD=%s
`
