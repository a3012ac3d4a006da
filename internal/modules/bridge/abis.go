package bridge

// The provision events carry one struct parameter; with dynamic members it
// is encoded behind a leading offset word, and the topic hashes over the
// canonical tuple form, e.g. ProvisionConfirm((uint256,string,string,uint256)).
// Sequence numbers are uint64 on the contract; they decode identically when
// declared uint256 and that keeps them as big ints through the parser.
const bridgeABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {
        "indexed": false,
        "internalType": "struct IFBridge.Provision",
        "name": "provision",
        "type": "tuple",
        "components": [
          {"internalType": "uint256", "name": "seq", "type": "uint256"},
          {"internalType": "string", "name": "sender", "type": "string"},
          {"internalType": "string", "name": "receiver", "type": "string"},
          {"internalType": "uint256", "name": "amount", "type": "uint256"}
        ]
      }
    ],
    "name": "ProvisionConfirm",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {
        "indexed": false,
        "internalType": "struct IFBridge.Provision",
        "name": "provision",
        "type": "tuple",
        "components": [
          {"internalType": "uint256", "name": "seq", "type": "uint256"},
          {"internalType": "string", "name": "sender", "type": "string"},
          {"internalType": "string", "name": "receiver", "type": "string"},
          {"internalType": "uint256", "name": "amount", "type": "uint256"}
        ]
      }
    ],
    "name": "Claim",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {
        "indexed": false,
        "internalType": "struct IFBridge.Provision",
        "name": "provision",
        "type": "tuple",
        "components": [
          {"internalType": "uint256", "name": "seq", "type": "uint256"},
          {"internalType": "string", "name": "sender", "type": "string"},
          {"internalType": "string", "name": "receiver", "type": "string"},
          {"internalType": "uint256", "name": "amount", "type": "uint256"}
        ]
      }
    ],
    "name": "RemoveProvision",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "seq", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "time", "type": "uint256"}
    ],
    "name": "HoldClaim",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "seq", "type": "uint256"}
    ],
    "name": "ReleaseClaim",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "time", "type": "uint256"}
    ],
    "name": "ChangeTransferTimeLock",
    "type": "event"
  }
]`
