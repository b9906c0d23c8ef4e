package config

// SampleProject is written by `deployctl init`. It runs in simulate mode so
// it can be applied without any commands configured.
const SampleProject = `name: sample

state:
  backend: file
  dir: .deploykit

environments:
  - id: dev
    description: Local development
    params:
      region: local
  - id: prod
    description: Production
    protected: true
    params:
      region: eu-west-1

scenarios:
  - name: default
    description: Network, database and application with DNS
    steps:
      - name: network
        create: true
        configure: true
      - name: database
        create: true
        configure: true
        requires: [network]
      - name: app
        create: true
        requires: [database]
      - name: dns
        create: true
        requires: ["app:created"]
        policy: soft
      - name: app-config
        configure: true
        target: app
        requires: [dns]

actions:
  mode: simulate
`
